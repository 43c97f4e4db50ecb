package instrument

import (
	"errors"
	"fmt"
)

var (
	ErrMotion      = errors.New("motion failed")
	ErrAcquisition = errors.New("acquisition failed")
	ErrTimeout     = errors.New("no reply from instrument")
	ErrClosed      = errors.New("instrument connection closed")
	ErrWriteFailed = errors.New("failed to write to serial port")
)

// MotionError reports a failed move. It matches ErrMotion.
type MotionError struct {
	Axis  string
	Value float64
	Err   error
}

func (e *MotionError) Error() string {
	return fmt.Sprintf("move %s to %g: %v", e.Axis, e.Value, e.Err)
}

func (e *MotionError) Unwrap() error        { return e.Err }
func (e *MotionError) Is(target error) bool { return target == ErrMotion }

// AcquisitionError reports a failed detector count. It matches ErrAcquisition.
type AcquisitionError struct {
	Frames int
	Err    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("count %d frames: %v", e.Frames, e.Err)
}

func (e *AcquisitionError) Unwrap() error        { return e.Err }
func (e *AcquisitionError) Is(target error) bool { return target == ErrAcquisition }

// DeviceError carries a message the controller sent back in an ERR reply.
type DeviceError struct {
	Target  string
	Message string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s reported: %s", e.Target, e.Message)
}
