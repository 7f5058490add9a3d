package admin

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/simult/loopproxy/pkg/lb"
)

// request is one parsed admin line.
type request struct {
	stop bool
	cmd  lb.Command
}

// parseLine parses a line of the form "<verb> <args...>".
func parseLine(line string) (req request, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		err = errors.New("empty command")
		return
	}
	verb, args := strings.ToLower(fields[0]), fields[1:]
	want := 0
	switch verb {
	case "stop":
		req.stop = true
	case "add-front":
		req.cmd.Kind = lb.AddFront
		want = 2
	case "remove-front":
		req.cmd.Kind = lb.RemoveFront
		want = 1
	case "add-backend":
		req.cmd.Kind = lb.AddBackend
		want = 2
	case "remove-backend":
		req.cmd.Kind = lb.RemoveBackend
		want = 2
		if len(args) == 1 {
			want = 1
		}
	default:
		err = errors.Errorf("unknown command %q", fields[0])
		return
	}
	if len(args) != want {
		err = errors.Errorf("%s needs %d arguments", verb, want)
		return
	}
	switch req.cmd.Kind {
	case lb.AddFront:
		req.cmd.Front, req.cmd.Backend = args[0], args[1]
	case lb.RemoveFront:
		req.cmd.Front = args[0]
	case lb.AddBackend, lb.RemoveBackend:
		req.cmd.Backend = args[0]
		if len(args) > 1 {
			req.cmd.Address = args[1]
		}
	}
	return
}
