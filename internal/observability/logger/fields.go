package logger

import (
	"time"

	"go.uber.org/zap"
)

func Stack(v string) zap.Field {
	return zap.String("stack", v)
}

func LogicalID(v string) zap.Field {
	return zap.String("logical_id", v)
}

func ExportName(v string) zap.Field {
	return zap.String("export_name", v)
}

func KeySpec(v string) zap.Field {
	return zap.String("key_spec", v)
}

func Fingerprint(v string) zap.Field {
	return zap.String("fingerprint", v)
}

func ResourceID(v string) zap.Field {
	return zap.String("resource_id", v)
}

func Engine(v string) zap.Field {
	return zap.String("engine", v)
}

func Code(v string) zap.Field {
	return zap.String("code", v)
}

func Codes(v []string) zap.Field {
	return zap.Strings("codes", v)
}

func Method(v string) zap.Field {
	return zap.String("method", v)
}

func Path(v string) zap.Field {
	return zap.String("path", v)
}

func Status(v int) zap.Field {
	return zap.Int("status", v)
}

func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

func Err(err error) zap.Field {
	return zap.Error(err)
}

func StackStatus(v string) zap.Field {
	return zap.String("stack_status", v)
}
