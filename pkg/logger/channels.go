package logger

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Channel is a named log stream that can be toggled by log mode
type Channel string

const (
	ChannelMain                  Channel = "main"
	ChannelDebug                 Channel = "debug"
	ChannelError                 Channel = "error"
	ChannelAPIPlaceOrder         Channel = "api_place_order"
	ChannelAPIGetOrderStatus     Channel = "api_get_order_status"
	ChannelAPIGetAccount         Channel = "api_get_account"
	ChannelAPICancelOrder        Channel = "api_cancel_order"
	ChannelOrderAction           Channel = "order_action"
	ChannelPositionRenewalAction Channel = "position_renewal_action"
	ChannelPriceUpdateRound      Channel = "price_update_round"
	ChannelManagedResources      Channel = "managed_resources"
	ChannelOrderChanges          Channel = "order_changes"
	ChannelSimulationResults     Channel = "simulation_results"
	ChannelDailySummary          Channel = "daily_summary"
)

// AllChannels lists every channel in display order
var AllChannels = []Channel{
	ChannelMain,
	ChannelDebug,
	ChannelError,
	ChannelAPIPlaceOrder,
	ChannelAPIGetOrderStatus,
	ChannelAPIGetAccount,
	ChannelAPICancelOrder,
	ChannelOrderAction,
	ChannelPositionRenewalAction,
	ChannelPriceUpdateRound,
	ChannelManagedResources,
	ChannelOrderChanges,
	ChannelSimulationResults,
	ChannelDailySummary,
}

// Mode selects which channels are written
type Mode string

const (
	ModeDefault   Mode = "default"
	ModeQuiet     Mode = "quiet"
	ModeTalkative Mode = "talkative"
	ModeVerbose   Mode = "verbose"
)

// ParseMode converts a string into a Mode
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDefault, "":
		return ModeDefault, nil
	case ModeQuiet:
		return ModeQuiet, nil
	case ModeTalkative:
		return ModeTalkative, nil
	case ModeVerbose:
		return ModeVerbose, nil
	default:
		return "", fmt.Errorf("unknown log mode %q", s)
	}
}

var apiChannels = []Channel{
	ChannelAPIPlaceOrder,
	ChannelAPIGetOrderStatus,
	ChannelAPIGetAccount,
	ChannelAPICancelOrder,
}

// disabledChannels returns the channels switched off by a mode
// ⭐ SSOT: 로그 모드별 채널 on/off 규칙은 여기서만
func disabledChannels(mode Mode) []Channel {
	switch mode {
	case ModeQuiet:
		off := []Channel{ChannelDebug, ChannelPriceUpdateRound}
		off = append(off, apiChannels...)
		return append(off, ChannelOrderAction, ChannelPositionRenewalAction, ChannelOrderChanges, ChannelDailySummary)
	case ModeTalkative:
		off := []Channel{ChannelDebug, ChannelPriceUpdateRound}
		off = append(off, apiChannels...)
		return append(off, ChannelOrderAction, ChannelPositionRenewalAction)
	case ModeVerbose:
		return nil
	default:
		return []Channel{ChannelDebug, ChannelPriceUpdateRound, ChannelDailySummary}
	}
}

// channelSet is immutable after construction
type channelSet struct {
	mode Mode
	off  map[Channel]bool
}

func newChannelSet(mode Mode) *channelSet {
	cs := &channelSet{mode: mode, off: make(map[Channel]bool)}
	for _, ch := range disabledChannels(mode) {
		cs.off[ch] = true
	}
	return cs
}

// Mode returns the active log mode
func (l *Logger) Mode() Mode {
	if l.channels == nil {
		return ModeVerbose
	}
	return l.channels.mode
}

// On reports whether a channel is enabled
func (l *Logger) On(ch Channel) bool {
	if l.channels == nil {
		return true
	}
	return !l.channels.off[ch]
}

// Channel returns a logger tagged with the channel, or a discarding logger if the channel is off
func (l *Logger) Channel(ch Channel) *Logger {
	if !l.On(ch) {
		return &Logger{zlog: zerolog.Nop(), channels: l.channels}
	}
	newLogger := l.zlog.With().Str("channel", string(ch)).Logger()
	return &Logger{zlog: newLogger, channels: l.channels}
}
