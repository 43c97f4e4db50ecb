package instrument

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
)

// Peak is the simulated response along one axis.
type Peak struct {
	Center    float64
	Width     float64
	Amplitude float64
}

// Limits bound the travel of a simulated axis.
type Limits struct {
	Min, Max float64
}

// Simulator is an in-memory SerialPorter that answers the controller
// protocol. Each axis contributes a Gaussian peak and the detector
// returns the product of the peak responses on top of a flat background,
// scaled by the frame count, with counting noise.
type Simulator struct {
	// Background is the per-frame count away from any peak.
	Background float64
	// Noise scales the sqrt(counts) noise term; zero gives exact counts.
	Noise float64

	mu        sync.Mutex
	cond      *sync.Cond
	pending   bytes.Buffer
	inbox     bytes.Buffer
	positions map[string]float64
	peaks     map[string]Peak
	limits    map[string]Limits
	faults    map[string]string
	titles    []string
	closed    bool
	rng       *rand.Rand
}

var errSimulatorClosed = errors.New("simulator closed")

// NewSimulator returns a simulator with no axes configured. Unknown axes
// move freely and do not affect the counts.
func NewSimulator(seed uint64) *Simulator {
	s := &Simulator{
		Background: 10,
		Noise:      1,
		positions:  make(map[string]float64),
		peaks:      make(map[string]Peak),
		limits:     make(map[string]Limits),
		faults:     make(map[string]string),
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// SetPeak configures the response along axis.
func (s *Simulator) SetPeak(axis string, p Peak) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peaks[axis] = p
}

// SetLimits restricts axis travel; moves outside are refused.
func (s *Simulator) SetLimits(axis string, l Limits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[axis] = l
}

// Fail makes every subsequent command aimed at target (an axis name or
// "detector") reply with an ERR carrying message. An empty message clears it.
func (s *Simulator) Fail(target, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if message == "" {
		delete(s.faults, target)
		return
	}
	s.faults[target] = message
}

// Position returns the current simulated position of axis.
func (s *Simulator) Position(axis string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[axis]
}

// Titles returns the run titles received so far.
func (s *Simulator) Titles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...)
}

func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.closed && s.pending.Len() == 0 {
		s.cond.Wait()
	}
	if s.pending.Len() == 0 {
		return 0, errSimulatorClosed
	}
	return s.pending.Read(p)
}

func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errSimulatorClosed
	}
	s.inbox.Write(p)
	for {
		line, err := s.inbox.ReadString('\n')
		if err != nil {
			// keep the partial line for the next write
			s.inbox.Reset()
			s.inbox.WriteString(line)
			break
		}
		if out := s.handle(strings.TrimSpace(line)); out != "" {
			s.pending.WriteString(out + "\n")
		}
	}
	s.cond.Broadcast()
	return len(p), nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
	return nil
}

func (s *Simulator) handle(line string) string {
	cmd, rest, _ := strings.Cut(line, " ")
	switch strings.ToUpper(cmd) {
	case cmdMove:
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return fmt.Sprintf("%s ? malformed move %q", replyErr, rest)
		}
		axis := fields[0]
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return fmt.Sprintf("%s %s bad value %q", replyErr, axis, fields[1])
		}
		if msg, ok := s.faults[axis]; ok {
			return fmt.Sprintf("%s %s %s", replyErr, axis, msg)
		}
		if l, ok := s.limits[axis]; ok && (v < l.Min || v > l.Max) {
			return fmt.Sprintf("%s %s limit exceeded: %g outside [%g, %g]", replyErr, axis, v, l.Min, l.Max)
		}
		s.positions[axis] = v
		return fmt.Sprintf("%s %s %s", replyPos, axis, formatFloat(v))

	case cmdCount:
		frames, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil || frames < 1 {
			return fmt.Sprintf("%s %s bad frame count %q", replyErr, detectorTarget, rest)
		}
		if msg, ok := s.faults[detectorTarget]; ok {
			return fmt.Sprintf("%s %s %s", replyErr, detectorTarget, msg)
		}
		return fmt.Sprintf("%s %s", replyCounts, formatFloat(s.counts(frames)))

	case cmdTitle:
		s.titles = append(s.titles, rest)
		return replyOK
	case cmdBegin, cmdEnd:
		return replyOK
	}
	return ""
}

func (s *Simulator) counts(frames int) float64 {
	signal := 1.0
	for axis, p := range s.peaks {
		d := s.positions[axis] - p.Center
		w := p.Width
		if w == 0 {
			w = 1
		}
		signal *= p.Amplitude * math.Exp(-0.5*(d/w)*(d/w))
	}
	if len(s.peaks) == 0 {
		signal = 0
	}
	mean := float64(frames) * (s.Background + signal)
	return math.Round(mean + s.Noise*math.Sqrt(mean)*s.rng.NormFloat64())
}
