package mailqueue

import (
	"context"

	"github.com/bassline-events/mailroom-backend/pkg/logger"
)

// KickChannel is the pub/sub channel the dispatcher listens on for immediate
// dispatch nudges.
const KickChannel = "mail_enqueued"

type kickPublisher interface {
	Publish(ctx context.Context, channel string, payload any) error
	ChannelKey(name string) string
}

// RedisKicker signals the dispatcher over redis pub/sub. Best effort: publish
// failures are logged and dropped, the periodic sweep picks the job up.
type RedisKicker struct {
	client kickPublisher
	logg   *logger.Logger
}

// NewRedisKicker wraps the shared redis client.
func NewRedisKicker(client kickPublisher, logg *logger.Logger) *RedisKicker {
	return &RedisKicker{client: client, logg: logg}
}

func (k *RedisKicker) Kick(ctx context.Context) {
	if k == nil || k.client == nil {
		return
	}
	if err := k.client.Publish(ctx, k.client.ChannelKey(KickChannel), "1"); err != nil && k.logg != nil {
		k.logg.Warn(ctx, "dispatch kick failed; periodic sweep will cover")
	}
}
