package antispam

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cannies936/Level-Cannies/internal/config"
	"github.com/cannies936/Level-Cannies/internal/history"
	"github.com/cannies936/Level-Cannies/internal/modules/banword"
	"github.com/cannies936/Level-Cannies/internal/modules/whitelist"
)

type fixture struct {
	classifier *Classifier
	whitelist  *whitelist.Registry
	banwords   *banword.Registry
	cfg        config.SpamConfig
	start      time.Time
}

func newFixture() *fixture {
	wl := whitelist.NewRegistry()
	bw := banword.NewRegistry(100)
	return &fixture{
		classifier: NewClassifier(history.NewStore(), wl, bw, "n!"),
		whitelist:  wl,
		banwords:   bw,
		cfg:        config.DefaultConfig().Spam,
		start:      time.Unix(1_700_000_000, 0),
	}
}

func (f *fixture) message(content string, offset time.Duration) Message {
	return Message{
		GuildID:   "g1",
		ChannelID: "c1",
		MessageID: fmt.Sprintf("m-%d", offset),
		AuthorID:  "u1",
		Content:   content,
		Timestamp: f.start.Add(offset),
	}
}

func TestBurstFlagsExactlyTheLimitMessage(t *testing.T) {
	for _, limit := range []int{2, 3, 5, history.MaxTimestamps} {
		f := newFixture()
		f.cfg.MessageLimit = limit
		f.cfg.TimeWindowSeconds = 10

		for i := 1; i <= limit; i++ {
			verdict := f.classifier.Classify(f.message(fmt.Sprintf("msg %d", i), time.Duration(i)*500*time.Millisecond), f.cfg)
			if i < limit {
				require.Equal(t, Clean, verdict.Kind, "limit %d message %d", limit, i)
				continue
			}
			require.Equal(t, Spam, verdict.Kind, "limit %d message %d", limit, i)
			assert.Equal(t, RuleBurst, verdict.Rule)
		}
	}
}

func TestBurstIgnoresMessagesOutsideWindow(t *testing.T) {
	f := newFixture()
	f.cfg.MessageLimit = 3
	f.cfg.TimeWindowSeconds = 10

	assert.Equal(t, Clean, f.classifier.Classify(f.message("a", 0), f.cfg).Kind)
	assert.Equal(t, Clean, f.classifier.Classify(f.message("b", 11*time.Second), f.cfg).Kind)
	assert.Equal(t, Clean, f.classifier.Classify(f.message("c", 12*time.Second), f.cfg).Kind)
	assert.Equal(t, Spam, f.classifier.Classify(f.message("d", 13*time.Second), f.cfg).Kind)
}

func TestDuplicateRunAndReset(t *testing.T) {
	f := newFixture()
	f.cfg.MessageLimit = history.MaxTimestamps
	f.cfg.DuplicateLimit = 3
	gap := 20 * time.Second

	assert.Equal(t, Clean, f.classifier.Classify(f.message("Buy now", 0), f.cfg).Kind)
	assert.Equal(t, Clean, f.classifier.Classify(f.message("buy now ", gap), f.cfg).Kind)
	assert.Equal(t, Clean, f.classifier.Classify(f.message("something else", 2*gap), f.cfg).Kind)
	assert.Equal(t, Clean, f.classifier.Classify(f.message("buy now", 3*gap), f.cfg).Kind)
	assert.Equal(t, Clean, f.classifier.Classify(f.message("BUY NOW", 4*gap), f.cfg).Kind)

	verdict := f.classifier.Classify(f.message("buy now", 5*gap), f.cfg)
	assert.Equal(t, Spam, verdict.Kind)
	assert.Equal(t, RuleDuplicate, verdict.Rule)
}

func TestDuplicateIgnoresEmptyBodies(t *testing.T) {
	f := newFixture()
	f.cfg.MessageLimit = history.MaxTimestamps
	f.cfg.DuplicateLimit = 2

	assert.Equal(t, Clean, f.classifier.Classify(f.message("  ", 0), f.cfg).Kind)
	assert.Equal(t, Clean, f.classifier.Classify(f.message("", time.Minute), f.cfg).Kind)
}

func TestExemptionsStillRecordHistory(t *testing.T) {
	f := newFixture()
	f.cfg.MessageLimit = 4
	store := f.classifier.history

	bot := f.message("beep", 0)
	bot.AuthorIsBot = true
	admin := f.message("hello", time.Second)
	admin.AuthorIsAdmin = true
	command := f.message("n!antispam status", 2*time.Second)

	assert.Equal(t, Clean, f.classifier.Classify(bot, f.cfg).Kind)
	assert.Equal(t, Clean, f.classifier.Classify(admin, f.cfg).Kind)
	assert.Equal(t, Clean, f.classifier.Classify(command, f.cfg).Kind)
	assert.Equal(t, 3, store.Len("g1", "u1"))

	// Exempt messages still fill the window, so the next ordinary message is
	// the fourth inside it.
	assert.Equal(t, Spam, f.classifier.Classify(f.message("plain", 3*time.Second), f.cfg).Kind)
}

func TestAdminsStillHitBannedWords(t *testing.T) {
	f := newFixture()
	_, err := f.banwords.Add("g1", "slur")
	require.NoError(t, err)
	f.banwords.Enable("g1")

	msg := f.message("that is a SLUR", 0)
	msg.AuthorIsAdmin = true
	verdict := f.classifier.Classify(msg, f.cfg)
	assert.Equal(t, BannedWord, verdict.Kind)
	assert.Equal(t, "slur", verdict.Word)
}

func TestCommandsStillHitBannedWords(t *testing.T) {
	f := newFixture()
	_, err := f.banwords.Add("g1", "slur")
	require.NoError(t, err)
	f.banwords.Enable("g1")

	verdict := f.classifier.Classify(f.message("n!lol slur slur slur", 0), f.cfg)
	assert.Equal(t, BannedWord, verdict.Kind)
	assert.Equal(t, "slur", verdict.Word)

	// Without Manage Messages the banword command is no escape hatch either.
	plain := f.message("n!banword remove slur", time.Second)
	assert.Equal(t, BannedWord, f.classifier.Classify(plain, f.cfg).Kind)

	manager := f.message("n!banword remove slur", 2*time.Second)
	manager.CanManage = true
	assert.Equal(t, Clean, f.classifier.Classify(manager, f.cfg).Kind)

	other := f.message("n!antispam reset slur", 3*time.Second)
	other.CanManage = true
	assert.Equal(t, BannedWord, f.classifier.Classify(other, f.cfg).Kind)
}

func TestCommandsSkipSpamStage(t *testing.T) {
	f := newFixture()
	f.cfg.MessageLimit = 2

	for i := 0; i < 4; i++ {
		msg := f.message("n!antispam status", time.Duration(i)*time.Millisecond)
		assert.Equal(t, Clean, f.classifier.Classify(msg, f.cfg).Kind)
	}
}

func TestWhitelistedMembersAreNeverFlagged(t *testing.T) {
	f := newFixture()
	f.cfg.MessageLimit = 2
	require.NoError(t, f.whitelist.AddRole("g1", "trusted"))
	f.whitelist.Enable("g1")
	_, err := f.banwords.Add("g1", "slur")
	require.NoError(t, err)
	f.banwords.Enable("g1")

	for i := 0; i < 5; i++ {
		msg := f.message("slur slur", time.Duration(i)*time.Millisecond)
		msg.RoleIDs = []string{"trusted"}
		assert.Equal(t, Clean, f.classifier.Classify(msg, f.cfg).Kind)
	}
}

func TestSpamShortCircuitsBannedWord(t *testing.T) {
	f := newFixture()
	f.cfg.MessageLimit = 2
	_, err := f.banwords.Add("g1", "slur")
	require.NoError(t, err)
	f.banwords.Enable("g1")

	assert.Equal(t, BannedWord, f.classifier.Classify(f.message("slur", 0), f.cfg).Kind)
	assert.Equal(t, Spam, f.classifier.Classify(f.message("slur again", time.Second), f.cfg).Kind)
}

func TestDisabledSpamStageStillChecksBannedWords(t *testing.T) {
	f := newFixture()
	f.cfg.Enabled = false
	f.cfg.MessageLimit = 1
	_, err := f.banwords.Add("g1", "slur")
	require.NoError(t, err)
	f.banwords.Enable("g1")

	assert.Equal(t, Clean, f.classifier.Classify(f.message("hello", 0), f.cfg).Kind)
	assert.Equal(t, BannedWord, f.classifier.Classify(f.message("slur", time.Second), f.cfg).Kind)
}
