package render

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/keshon/musicbot/internal/core"
	"github.com/keshon/musicbot/pkg/jobmgr"
	"github.com/keshon/musicbot/pkg/retrylimit"
)

const sendAttempts = 3

// Only status-classified failures are retried; anything else is final.
func retryConfig() retrylimit.RetryConfig {
	cfg := retrylimit.DefaultRetryConfig()
	cfg.MaxAttempts = sendAttempts
	cfg.Retryable = func(error) bool { return false }
	return cfg
}

// Dispatcher sends rendered replies and owns the delayed deletions.
type Dispatcher struct {
	gw   core.Gateway
	jobs *jobmgr.Manager
	lim  *retrylimit.AdaptiveLimiter
}

// NewDispatcher returns a Dispatcher sending through gw.
func NewDispatcher(gw core.Gateway) *Dispatcher {
	return &Dispatcher{
		gw:   gw,
		jobs: jobmgr.NewManager(nil),
		lim:  retrylimit.NewAdaptiveLimiter(5, 1, 50, 1, 0.5),
	}
}

// Send delivers out to channelID. A positive expire schedules deletion of the
// sent message. alsoDelete, when set, is deleted after expire regardless of
// whether the send succeeded.
func (d *Dispatcher) Send(ctx context.Context, channelID string, out Outbound, expire time.Duration, alsoDelete *core.MessageRef) (*discordgo.Message, error) {
	var msg *discordgo.Message
	var err error

	if !out.Empty() {
		err = retrylimit.WithRetryConfig(ctx, func() error {
			var sendErr error
			msg, sendErr = d.gw.SendMessage(ctx, channelID, out.MessageSend())
			return sendErr
		}, d.lim, retryConfig())
		if err != nil {
			log.Warn().Err(err).Str("channel", channelID).Msg("Failed to send message")
		}
	}

	if msg != nil && expire > 0 {
		d.DeleteAfter(core.MessageRef{ChannelID: msg.ChannelID, MessageID: msg.ID}, expire)
	}
	if alsoDelete != nil {
		d.DeleteAfter(*alsoDelete, expire)
	}
	return msg, err
}

// DeleteAfter schedules a quiet deletion of ref.
func (d *Dispatcher) DeleteAfter(ref core.MessageRef, delay time.Duration) {
	name := "delete:" + ref.ChannelID + ":" + ref.MessageID
	err := d.jobs.After(name, delay, func(ctx context.Context) error {
		d.Delete(ctx, ref)
		return nil
	})
	if err != nil {
		log.Debug().Err(err).Str("message", ref.MessageID).Msg("Deletion not scheduled")
	}
}

// Delete removes ref, logging failures at debug level only.
func (d *Dispatcher) Delete(ctx context.Context, ref core.MessageRef) {
	err := retrylimit.WithRetryConfig(ctx, func() error {
		return d.gw.DeleteMessage(ctx, ref)
	}, d.lim, retryConfig())
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Debug().Err(err).Str("channel", ref.ChannelID).Str("message", ref.MessageID).Msg("Failed to delete message")
	}
}

// Jobs exposes the job manager running the deletions.
func (d *Dispatcher) Jobs() *jobmgr.Manager { return d.jobs }

// Close cancels pending deletions and waits for in-flight ones.
func (d *Dispatcher) Close() { d.jobs.StopAll() }
