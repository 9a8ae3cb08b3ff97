package mock

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/live-relay/backend/internal/live"
)

type viewer struct {
	uniqueID string
	nickname string
	level    int
	sub      bool
	mod      bool
}

type giftDef struct {
	id       int
	name     string
	diamonds int
	streak   bool
}

var gifts = []giftDef{
	{id: 5655, name: "Rose", diamonds: 1, streak: true},
	{id: 5827, name: "Ice Cream Cone", diamonds: 1, streak: true},
	{id: 6064, name: "GG", diamonds: 1, streak: true},
	{id: 5879, name: "Doughnut", diamonds: 30, streak: false},
	{id: 6267, name: "Corgi", diamonds: 299, streak: false},
}

var comments = []string{"hello", "hi from berlin", "first!", "gg", "what game is this?", "nice", "lol", "wow"}

// streak is a gift combo in progress.
type streak struct {
	from   viewer
	gift   giftDef
	count  int
	target int
}

// generator produces a plausible event mix for one broadcast. Viewer
// counts drift, likes accumulate, and streakable gifts are sent as
// combos whose last frame carries repeat_end=1.
type generator struct {
	broadcaster string
	rng         *rand.Rand
	audience    []viewer
	viewers     int
	totalLikes  int
	open        *streak
}

func newGenerator(broadcaster string, rng *rand.Rand) *generator {
	g := &generator{broadcaster: broadcaster, rng: rng, viewers: 20 + rng.Intn(200)}
	for i := 0; i < 12; i++ {
		g.audience = append(g.audience, viewer{
			uniqueID: fmt.Sprintf("viewer_%02d", i),
			nickname: fmt.Sprintf("Viewer %d", i),
			level:    rng.Intn(30),
			sub:      rng.Intn(5) == 0,
			mod:      i == 0,
		})
	}
	return g
}

func (g *generator) advance(tick int) []live.Message {
	var out []live.Message

	if g.open != nil {
		out = append(out, g.streakFrame())
	}

	if tick%5 == 1 {
		g.viewers += g.rng.Intn(21) - 8
		if g.viewers < 1 {
			g.viewers = 1
		}
		out = append(out, g.msg(live.RoomUser, map[string]any{"viewerCount": g.viewers}))
	}

	switch g.rng.Intn(6) {
	case 0, 1:
		v := g.pick()
		out = append(out, g.msg(live.Chat, g.user(v, map[string]any{
			"comment": comments[g.rng.Intn(len(comments))],
		})))
	case 2:
		v := g.pick()
		n := 1 + g.rng.Intn(15)
		g.totalLikes += n
		out = append(out, g.msg(live.Like, g.user(v, map[string]any{
			"likeCount":      n,
			"totalLikeCount": g.totalLikes,
		})))
	case 3:
		v := g.pick()
		out = append(out, g.msg(live.Member, g.user(v, map[string]any{
			"displayType": "live_room_enter_toast",
		})))
	case 4:
		if g.open == nil {
			out = append(out, g.startGift())
		}
	case 5:
		v := g.pick()
		out = append(out, g.msg(live.Social, g.user(v, map[string]any{
			"displayType": "pm_main_follow_message_viewer_2",
		})))
	}
	return out
}

func (g *generator) pick() viewer {
	return g.audience[g.rng.Intn(len(g.audience))]
}

func (g *generator) startGift() live.Message {
	def := gifts[g.rng.Intn(len(gifts))]
	s := &streak{from: g.pick(), gift: def, count: 1, target: 1}
	if def.streak {
		s.target = 2 + g.rng.Intn(6)
		g.open = s
	}
	return g.giftFrame(s, false)
}

func (g *generator) streakFrame() live.Message {
	s := g.open
	s.count++
	done := s.count >= s.target
	if done {
		g.open = nil
	}
	return g.giftFrame(s, done)
}

func (g *generator) giftFrame(s *streak, end bool) live.Message {
	giftType := 2
	if s.gift.streak {
		giftType = 1
	}
	repeatEnd := 0
	if end {
		repeatEnd = 1
	}
	return g.msg(live.Gift, g.user(s.from, map[string]any{
		"giftName":     s.gift.name,
		"giftType":     giftType,
		"diamondCount": s.gift.diamonds,
		"gift": map[string]any{
			"gift_id":      s.gift.id,
			"repeat_count": s.count,
			"repeat_end":   repeatEnd,
		},
	}))
}

func (g *generator) user(v viewer, extra map[string]any) map[string]any {
	data := map[string]any{
		"uniqueId":        v.uniqueID,
		"nickname":        v.nickname,
		"gifterLevel":     v.level,
		"teamMemberLevel": 0,
		"isSubscriber":    v.sub,
		"isModerator":     v.mod,
		"followInfo": map[string]any{
			"followingCount": 10 + v.level,
			"followerCount":  v.level * 3,
		},
		"createTime": time.Now().UnixMilli(),
	}
	for k, val := range extra {
		data[k] = val
	}
	return data
}

func (g *generator) msg(typ live.EventType, data map[string]any) live.Message {
	raw, _ := json.Marshal(data)
	return live.Message{Name: typ.String(), Data: raw}
}

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
