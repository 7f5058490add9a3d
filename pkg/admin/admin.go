// Package admin serves the control endpoint: a line based TCP protocol whose
// commands are broadcast to every driver.
package admin

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	accepter "github.com/orkunkaraduman/go-accepter"
	"github.com/pkg/errors"
	"github.com/simult/loopproxy/pkg/lb"
	"github.com/simult/loopproxy/pkg/logger"
)

var (
	errorLogger   logger.Logger = &logger.NullLogger{}
	warningLogger logger.Logger = &logger.NullLogger{}
	infoLogger    logger.Logger = &logger.NullLogger{}
	debugLogger   logger.Logger = &logger.NullLogger{}
)

// SetLoggers sets the package loggers.
func SetLoggers(err, warn, info, dbg logger.Logger) {
	errorLogger = err
	warningLogger = warn
	infoLogger = info
	debugLogger = dbg
}

// Controller executes admin commands. *lb.Hub implements it.
type Controller interface {
	Broadcast(ctx context.Context, cmd lb.Command) ([]lb.Result, error)
	Stop(ctx context.Context) ([]lb.Result, error)
}

const (
	maxLineLen     = 4096
	idleTimeout    = 5 * time.Minute
	commandTimeout = 10 * time.Second
)

type accepterHandler struct {
	ctl Controller
}

func (ah *accepterHandler) Serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr()
	debugLogger.Printf("admin connection from %v", remote)
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 256), maxLineLen)
	wr := bufio.NewWriter(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				debugLogger.Printf("admin connection from %v read error: %v", remote, err)
			}
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "quit" {
			return
		}
		reply, stop := ah.exec(ctx, line)
		infoLogger.Printf("admin %v: %q -> %s", remote, line, reply)
		if _, err := fmt.Fprintln(wr, reply); err != nil {
			return
		}
		if err := wr.Flush(); err != nil {
			return
		}
		if stop {
			return
		}
	}
}

func (ah *accepterHandler) exec(ctx context.Context, line string) (reply string, stop bool) {
	req, err := parseLine(line)
	if err != nil {
		return "error " + err.Error(), false
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	var results []lb.Result
	if req.stop {
		results, err = ah.ctl.Stop(ctx)
		stop = true
	} else {
		results, err = ah.ctl.Broadcast(ctx, req.cmd)
	}
	if err != nil {
		return "error " + strings.ReplaceAll(err.Error(), "\n", "; "), stop
	}
	kind := "none"
	if len(results) > 0 {
		kind = results[0].Kind.String()
	}
	return fmt.Sprintf("ok %s %d", kind, len(results)), stop
}

// Server is a running admin endpoint.
type Server struct {
	accr *accepter.Accepter
	lis  net.Listener
}

// Listen starts serving the admin protocol on address.
func Listen(address string, ctl Controller) (s *Server, err error) {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		err = errors.WithStack(err)
		return
	}
	s = &Server{
		accr: &accepter.Accepter{
			Handler: &accepterHandler{ctl: ctl},
		},
		lis: lis,
	}
	go func(accr *accepter.Accepter, lis net.Listener) {
		if e := accr.Serve(lis); e != nil {
			warningLogger.Printf("admin listener %v serve error: %v", lis.Addr(), e)
		}
	}(s.accr, lis)
	infoLogger.Printf("admin listening on %v", lis.Addr())
	return
}

func (s *Server) Addr() net.Addr {
	return s.lis.Addr()
}

func (s *Server) Close() {
	s.accr.Close()
}
