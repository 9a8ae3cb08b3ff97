package router

import (
	"strconv"

	"github.com/live-relay/backend/internal/live"
	"github.com/live-relay/backend/internal/sink"
	"github.com/live-relay/backend/internal/stats"
)

// giftTypeStreak marks gifts that can be sent as a repeating streak.
const giftTypeStreak = 1

// buildRecord returns the durable record for ev, or ok=false when the event
// is forward-only or filtered out.
func buildRecord(format sink.Format, ev live.Event, snap stats.Snapshot) (sink.Category, []string, bool) {
	switch ev.Type {
	case live.Chat:
		return sink.CategoryChat, chatFields(format, ev, snap), true
	case live.Gift:
		if !giftComplete(ev) {
			return "", nil, false
		}
		return sink.CategoryGift, giftFields(format, ev, snap), true
	case live.Like:
		return sink.CategoryLike, likeFields(format, ev, snap), true
	case live.Member:
		return sink.CategoryMember, memberFields(format, ev, snap), true
	}
	return "", nil, false
}

// giftComplete reports whether a gift frame should be recorded. Streak
// gifts are recorded once, on the frame that ends the streak.
func giftComplete(ev live.Event) bool {
	if ev.Field("giftType").Int() != giftTypeStreak {
		return true
	}
	return ev.Field("gift.repeat_end").Int() == 1
}

func giftValue(ev live.Event) int64 {
	return ev.Field("diamondCount").Int() * ev.Field("gift.repeat_count").Int()
}

// field renders a payload value; a missing path is an empty column.
func field(ev live.Event, path string) string {
	return ev.Field(path).String()
}

// userFields are the sender attributes shared by chat, gift and like records.
func userFields(ev live.Event) []string {
	return []string{
		field(ev, "gifterLevel"),
		field(ev, "teamMemberLevel"),
		field(ev, "isSubscriber"),
		field(ev, "isModerator"),
		field(ev, "followInfo.followingCount"),
		field(ev, "followInfo.followerCount"),
	}
}

func audience(snap stats.Snapshot) []string {
	return []string{
		strconv.FormatInt(snap.ViewerCount, 10),
		strconv.FormatInt(snap.LikeCount, 10),
	}
}

func chatFields(format sink.Format, ev live.Event, snap stats.Snapshot) []string {
	out := []string{ev.UniqueID(), ev.Nickname(), field(ev, "comment")}
	if format == sink.Legacy {
		return out
	}
	out = append(out, userFields(ev)...)
	out = append(out, ev.CreateTime())
	return append(out, audience(snap)...)
}

func giftFields(format sink.Format, ev live.Event, snap stats.Snapshot) []string {
	value := strconv.FormatInt(giftValue(ev), 10)
	if format == sink.Legacy {
		return []string{ev.UniqueID(), ev.Nickname(), value}
	}
	out := []string{
		ev.UniqueID(),
		ev.Nickname(),
		field(ev, "giftName"),
		"(" + field(ev, "gift.gift_id") + ")",
		field(ev, "diamondCount"),
		"x" + field(ev, "gift.repeat_count"),
		value,
	}
	out = append(out, userFields(ev)...)
	out = append(out, ev.CreateTime())
	return append(out, audience(snap)...)
}

func likeFields(format sink.Format, ev live.Event, snap stats.Snapshot) []string {
	out := []string{ev.UniqueID(), ev.Nickname(), field(ev, "likeCount")}
	if format == sink.Legacy {
		return out
	}
	out = append(out, userFields(ev)...)
	out = append(out, field(ev, "totalLikeCount"), ev.CreateTime())
	return append(out, audience(snap)...)
}

func memberFields(format sink.Format, ev live.Event, snap stats.Snapshot) []string {
	out := []string{ev.UniqueID(), ev.Nickname(), field(ev, "displayType")}
	if format == sink.Legacy {
		return out
	}
	out = append(out, ev.CreateTime())
	return append(out, audience(snap)...)
}
