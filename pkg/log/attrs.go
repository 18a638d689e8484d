package log

import "log/slog"

func ExecutionID(id string) slog.Attr {
	return slog.String("execution_id", id)
}

func WorkflowID(id string) slog.Attr {
	return slog.String("workflow_id", id)
}

func NodeID(id string) slog.Attr {
	return slog.String("node_id", id)
}

func NodeName(name string) slog.Attr {
	return slog.String("node_name", name)
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}
