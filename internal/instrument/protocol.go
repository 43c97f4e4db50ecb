package instrument

import (
	"fmt"
	"strconv"
	"strings"
)

// Commands and replies are newline-terminated ASCII lines:
//
//	MOVE <axis> <value>   -> POS <axis> <value> | ERR <axis> <message>
//	COUNT <frames>        -> COUNTS <value>     | ERR detector <message>
//	TITLE <text>, BEGIN, END -> OK
const (
	cmdMove  = "MOVE"
	cmdCount = "COUNT"
	cmdTitle = "TITLE"
	cmdBegin = "BEGIN"
	cmdEnd   = "END"

	replyPos    = "POS"
	replyCounts = "COUNTS"
	replyErr    = "ERR"
	replyOK     = "OK"

	detectorTarget = "detector"
)

type reply struct {
	kind    string
	target  string
	value   float64
	message string
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func moveCommand(axis string, value float64) string {
	return fmt.Sprintf("%s %s %s", cmdMove, axis, formatFloat(value))
}

func countCommand(frames int) string {
	return fmt.Sprintf("%s %d", cmdCount, frames)
}

// parseReply decodes one line. Lines that are not replies are reported
// with ok == false and ignored by waiting callers.
func parseReply(line string) (r reply, ok bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return r, false
	}
	r.kind = strings.ToUpper(fields[0])
	switch r.kind {
	case replyPos:
		if len(fields) != 3 {
			return r, false
		}
		v, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return r, false
		}
		r.target, r.value = fields[1], v
	case replyCounts:
		if len(fields) != 2 {
			return r, false
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return r, false
		}
		r.value = v
	case replyErr:
		if len(fields) < 2 {
			return r, false
		}
		r.target = fields[1]
		r.message = strings.Join(fields[2:], " ")
	case replyOK:
	default:
		return r, false
	}
	return r, true
}
