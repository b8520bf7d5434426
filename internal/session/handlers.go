package session

import (
	"math"
	"time"

	"go.uber.org/zap"

	"odin-db/internal/broadcast"
	"odin-db/internal/protocol"
	"odin-db/internal/store"
)

// dispatch executes cmd per the spec.md §4.4 command table and writes
// whatever reply that command calls for. It returns false if a transport
// write failed and the writer loop must stop.
func (c *Connection) dispatch(logger *zap.Logger, cmd protocol.Command) bool {
	if c.deps.Metrics != nil {
		c.deps.Metrics.CommandProcessed(commandMetricLabel(cmd.Kind))
	}

	switch cmd.Kind {
	case protocol.CommandSubscribeBroadcast:
		opts := broadcast.Options{SubscribeToSelf: cmd.SubscribeBroadcast.SubscribeToSelf}
		c.localSubs[cmd.SubscribeBroadcast.Channel] = opts
		c.deps.Registry.Add(c.id, cmd.SubscribeBroadcast.Channel, opts)
		return true

	case protocol.CommandUnsubscribeBroadcast:
		delete(c.localSubs, cmd.UnsubscribeChannel)
		c.deps.Registry.Remove(c.id, cmd.UnsubscribeChannel)
		return true

	case protocol.CommandSendBroadcast:
		envelope := broadcast.Envelope{
			ClientID: c.id,
			Channel:  cmd.SendBroadcast.Channel,
			Message:  cmd.SendBroadcast.Message,
		}
		if err := c.deps.Bus.Publish(envelope); err != nil {
			logger.Debug("broadcast publish had no subscribers", zap.String("channel", envelope.Channel))
			if c.deps.Metrics != nil {
				c.deps.Metrics.NoSubscriberDrops.Inc()
			}
		} else if c.deps.Bridge != nil {
			c.deps.Bridge.Publish(envelope)
		}
		return true

	case protocol.CommandSet:
		expiry := absoluteExpiry(time.Now().UTC(), cmd.Set.Value.Expiry)
		c.deps.Table.Set(cmd.Set.Key, store.Value{Data: cmd.Set.Value.Data, Expiry: expiry})
		return c.writeMessage(logger, protocol.NewStatusMessage(protocol.Ok()))

	case protocol.CommandGet:
		value, ok := c.deps.Table.Get(cmd.Get.Key)
		if !ok {
			return c.writeMessage(logger, protocol.NewGetMessage(nil))
		}
		return c.writeMessage(logger, protocol.NewGetMessage(&value))

	default:
		logger.Warn("unreachable command kind in dispatch", zap.Int("kind", int(cmd.Kind)))
		return true
	}
}

// absoluteExpiry converts a seconds-from-now TTL into an absolute UTC
// instant, returning nil (no expiry) both when seconds is absent and on
// arithmetic overflow, mirroring the source implementation's checked_add
// over a signed duration (spec.md §4.1, §8 "Expiry arithmetic overflow").
func absoluteExpiry(now time.Time, seconds *uint32) *time.Time {
	if seconds == nil {
		return nil
	}
	const maxSeconds = int64(math.MaxInt64) / int64(time.Second)
	if int64(*seconds) > maxSeconds {
		return nil
	}
	expiry := now.Add(time.Duration(*seconds) * time.Second)
	return &expiry
}

// commandMetricLabel maps a command kind to its Prometheus label, kept
// separate from protocol.CommandKind's wire tag so a relabel doesn't
// touch the wire format.
func commandMetricLabel(kind protocol.CommandKind) string {
	switch kind {
	case protocol.CommandSubscribeBroadcast:
		return "subscribe_broadcast"
	case protocol.CommandUnsubscribeBroadcast:
		return "unsubscribe_broadcast"
	case protocol.CommandSendBroadcast:
		return "send_broadcast"
	case protocol.CommandSet:
		return "set"
	case protocol.CommandGet:
		return "get"
	default:
		return "unknown"
	}
}
