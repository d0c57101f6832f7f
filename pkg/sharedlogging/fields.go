// Package sharedlogging provides a small structured-field builder on top of
// go.uber.org/zap, the way the teacher's shared logging helper builds a
// plain map and hands it to the logging backend. Components call
// NewFields().Component(...).Operation(...) to assemble context before
// emitting a zap log line, instead of scattering ad-hoc key/value pairs.
package sharedlogging

import (
	"time"

	"go.uber.org/zap"
)

// Fields is an ordered-insensitive bag of structured log attributes.
type Fields map[string]interface{}

// NewFields returns an empty field set.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) Resource(kind, name string) Fields {
	f["resource_type"] = kind
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) UserID(id string) Fields {
	if id != "" {
		f["user_id"] = id
	}
	return f
}

func (f Fields) SessionID(id string) Fields {
	if id != "" {
		f["session_id"] = id
	}
	return f
}

func (f Fields) RequestID(id string) Fields {
	if id != "" {
		f["request_id"] = id
	}
	return f
}

func (f Fields) TraceID(id string) Fields {
	if id != "" {
		f["trace_id"] = id
	}
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

func (f Fields) Custom(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// ToZap converts the field set into zap.Field values suitable for
// logger.With(fields.ToZap()...) or logger.Info(msg, fields.ToZap()...).
func (f Fields) ToZap() []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// DatabaseFields is a shortcut for the common graphstore/vectorstore
// logging shape.
func DatabaseFields(operation, table string) Fields {
	return NewFields().Component("database").Operation(operation).Resource("table", table)
}

// SchedulerFields is a shortcut used by the leader-election and job-tick
// log lines.
func SchedulerFields(job string, isLeader bool) Fields {
	return NewFields().Component("scheduler").Operation(job).Custom("is_leader", isLeader)
}
