package lb

import (
	"testing"

	"github.com/simult/loopproxy/pkg/logger"
)

func TestInitializeLoggersOnce(t *testing.T) {
	nl := &logger.NullLogger{}
	InitializeLoggers(nl, nl, nl, nl)
	defer func() {
		if recover() == nil {
			t.Error("second initialization did not panic")
		}
	}()
	InitializeLoggers(nl, nl, nl, nl)
}
