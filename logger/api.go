// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package logger provides logging wrappers around github.com/sirupsen/logrus.
//
// The APIs here add the calling package and function to every log entry and
// let trace/debug logging be turned on or off per package, the way the rest
// of the tracer's ambient stack does config-driven enablement.
package logger

import (
	"os"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/shardtrace/utils"
)

type Level int

const (
	PanicLevel Level = iota
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	TraceLevel
	DebugLevel
)

// packageTraceSettings controls whether Tracef is emitted for a given package.
// Entries default to false; Up() flips entries named in the ConfMap.
var packageTraceSettings = map[string]bool{
	"shardtracer": false,
	"tracehooks":  false,
	"heldlocks":   false,
	"deadlock":    false,
	"curvertex":   false,
	"traceevent":  false,
}

var traceLevelEnabled = false

// SetTraceLoggingPackages enables Tracef for exactly the named packages.
// "none" disables trace logging outright.
func SetTraceLoggingPackages(pkgs []string) {
	if len(pkgs) == 0 {
		traceLevelEnabled = false
		return
	}
	for pkg := range packageTraceSettings {
		packageTraceSettings[pkg] = false
	}
	for _, pkg := range pkgs {
		if pkg == "none" {
			traceLevelEnabled = false
			return
		}
		if _, ok := packageTraceSettings[pkg]; ok {
			packageTraceSettings[pkg] = true
			traceLevelEnabled = true
		}
	}
}

func traceEnabled(pkg string) bool {
	enabled, ok := packageTraceSettings[pkg]
	return ok && enabled
}

const (
	packageKey  = "package"
	functionKey = "function"
	errorKey    = "error"
	gidKey      = "goroutine"
)

// FuncCtx caches the package/function/goroutine fields common to every log
// call made from within a single function body.
type FuncCtx struct {
	entry *log.Entry
}

func callerPackageAndFunc(skip int) (pkg string, fn string) {
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return "", ""
	}
	full := runtime.FuncForPC(pc).Name()
	lastSlash := strings.LastIndex(full, "/")
	if lastSlash >= 0 {
		full = full[lastSlash+1:]
	}
	dot := strings.Index(full, ".")
	if dot < 0 {
		return full, full
	}
	return full[:dot], full[dot+1:]
}

func newFuncCtx(skip int) *FuncCtx {
	pkg, fn := callerPackageAndFunc(skip + 1)
	return &FuncCtx{entry: log.WithFields(log.Fields{
		packageKey:  pkg,
		functionKey: fn,
		gidKey:      utils.GoroutineID(),
	})}
}

func (ctx *FuncCtx) traceEnabledHere() bool {
	pkg, _ := ctx.entry.Data[packageKey].(string)
	return traceEnabled(pkg)
}

const callerSkip = 2

func Info(args ...interface{}) {
	newFuncCtx(callerSkip).entry.Info(args...)
}

func Infof(format string, args ...interface{}) {
	newFuncCtx(callerSkip).entry.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	newFuncCtx(callerSkip).entry.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	newFuncCtx(callerSkip).entry.Errorf(format, args...)
}

func ErrorfWithError(err error, format string, args ...interface{}) {
	newFuncCtx(callerSkip).entry.WithField(errorKey, err).Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	newFuncCtx(callerSkip).entry.Fatalf(format, args...)
}

// PanicfWithError logs then panics; used for programming-contract
// violations that must abort rather than limp on (misnested scoped
// updaters, double start/stop, short direct-I/O writes).
func PanicfWithError(err error, format string, args ...interface{}) {
	newFuncCtx(callerSkip).entry.WithField(errorKey, err).Panicf(format, args...)
}

func Tracef(format string, args ...interface{}) {
	if !traceLevelEnabled {
		return
	}
	ctx := newFuncCtx(callerSkip)
	if !ctx.traceEnabledHere() {
		return
	}
	ctx.entry.Infof(format, args...)
}

// Up configures logrus output. Called once at process start, before the
// first tracer is brought up.
func Up(toConsole bool) {
	log.SetFormatter(&log.TextFormatter{DisableColors: true})
	log.SetLevel(log.DebugLevel)
	if !toConsole {
		log.SetOutput(os.Stderr)
	}
}
