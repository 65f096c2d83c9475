package provider

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// LogProvider writes messages to the log instead of sending them. Used in
// development.
type LogProvider struct {
	log *zap.Logger
}

func NewLogProvider(log *zap.Logger) *LogProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogProvider{log: log.Named("provider.log")}
}

func (p *LogProvider) Name() string { return "log" }

func (p *LogProvider) Send(ctx context.Context, msg Message) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}
	p.log.Info("email send",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("delivery_log_id", msg.LogID),
		zap.Int("html_bytes", len(msg.HTML)),
	)
	return SendResult{StatusCode: http.StatusAccepted}, nil
}

var _ Provider = (*LogProvider)(nil)
