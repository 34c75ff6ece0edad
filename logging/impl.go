package logging

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// impl fans entries out to its appenders. Subloggers and With copies share the appender list
// of their parent, so an appender added to the root before they are made reaches them too.
type impl struct {
	name      string
	level     AtomicLevel
	inUTC     bool
	fields    []zapcore.Field
	appenders []Appender
}

type messageKind int

const (
	sprint messageKind = iota
	sprintf
	structured
)

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders = append(imp.appenders, appender)
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

func (imp *impl) Sublogger(subname string) Logger {
	name := subname
	if imp.name != "" {
		name = imp.name + "." + subname
	}
	sub := imp.with(nil)
	sub.name = name
	sub.level = NewAtomicLevelAt(imp.level.Get())
	return sub
}

func (imp *impl) With(keysAndValues ...interface{}) Logger {
	return imp.with(toFields(keysAndValues))
}

func (imp *impl) with(fields []zapcore.Field) *impl {
	all := make([]zapcore.Field, 0, len(imp.fields)+len(fields))
	all = append(append(all, imp.fields...), fields...)
	return &impl{
		name:      imp.name,
		level:     imp.level,
		inUTC:     imp.inUTC,
		fields:    all,
		appenders: imp.appenders,
	}
}

func (imp *impl) Sync() error {
	var err error
	for _, appender := range imp.appenders {
		err = multierr.Combine(err, appender.Sync())
	}
	return err
}

// emit builds the entry and hands it to every appender. It must be called directly from the
// exported logging methods for the caller lookup to land on user code.
func (imp *impl) emit(level Level, kind messageKind, msg string, args []interface{}) {
	if level < imp.level.Get() {
		return
	}
	entry := zapcore.Entry{
		Level:      level.AsZap(),
		Time:       time.Now(),
		LoggerName: imp.name,
		Caller:     getCaller(),
	}
	if imp.inUTC {
		entry.Time = entry.Time.UTC()
	}
	fields := imp.fields
	switch kind {
	case sprint:
		entry.Message = fmt.Sprint(args...)
	case sprintf:
		entry.Message = fmt.Sprintf(msg, args...)
	case structured:
		entry.Message = msg
		fields = append(append([]zapcore.Field{}, imp.fields...), toFields(args)...)
	}
	for _, appender := range imp.appenders {
		if err := appender.Write(entry, fields); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

// toFields pairs up keys and values. A trailing key without a value is kept with an error value
// so the mistake shows in the output.
func toFields(keysAndValues []interface{}) []zapcore.Field {
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 < len(keysAndValues) {
			fields = append(fields, zap.Any(key, keysAndValues[i+1]))
		} else {
			fields = append(fields, zap.Any(key, errors.New("unpaired log key")))
		}
	}
	return fields
}

func (imp *impl) Debug(args ...interface{}) { imp.emit(DEBUG, sprint, "", args) }

func (imp *impl) Debugf(template string, args ...interface{}) {
	imp.emit(DEBUG, sprintf, template, args)
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	imp.emit(DEBUG, structured, msg, keysAndValues)
}

func (imp *impl) Info(args ...interface{}) { imp.emit(INFO, sprint, "", args) }

func (imp *impl) Infof(template string, args ...interface{}) {
	imp.emit(INFO, sprintf, template, args)
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	imp.emit(INFO, structured, msg, keysAndValues)
}

func (imp *impl) Warn(args ...interface{}) { imp.emit(WARN, sprint, "", args) }

func (imp *impl) Warnf(template string, args ...interface{}) {
	imp.emit(WARN, sprintf, template, args)
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	imp.emit(WARN, structured, msg, keysAndValues)
}

func (imp *impl) Error(args ...interface{}) { imp.emit(ERROR, sprint, "", args) }

func (imp *impl) Errorf(template string, args ...interface{}) {
	imp.emit(ERROR, sprintf, template, args)
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	imp.emit(ERROR, structured, msg, keysAndValues)
}

// getCaller skips itself, emit and the exported method.
func getCaller() zapcore.EntryCaller {
	const skip = 3
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return zapcore.EntryCaller{}
	}
	caller := zapcore.EntryCaller{Defined: true, PC: pc, File: file, Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		caller.Function = fn.Name()
	}
	return caller
}
