//go:build linux

package main

import (
	"github.com/simult/loopproxy/pkg/admin"
	"github.com/simult/loopproxy/pkg/config"
	"github.com/simult/loopproxy/pkg/lb"
	"github.com/simult/loopproxy/pkg/logger"
)

var (
	errorLogger   logger.Logger = &logger.NullLogger{}
	warningLogger logger.Logger = &logger.NullLogger{}
	infoLogger    logger.Logger = &logger.NullLogger{}
	debugLogger   logger.Logger = &logger.NullLogger{}
)

func setLoggers(s logger.Set) {
	errorLogger = s.Error
	warningLogger = s.Warning
	infoLogger = s.Info
	debugLogger = s.Debug

	config.SetLoggers(s.Error, s.Warning, s.Info, s.Debug)
	lb.InitializeLoggers(s.Error, s.Warning, s.Info, s.Debug)
	admin.SetLoggers(s.Error, s.Warning, s.Info, s.Debug)
}
