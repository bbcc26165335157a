package discord

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"foursight.local/orchestrator/internal/client"
	"foursight.local/orchestrator/internal/types"
)

const (
	// Discord rejects messages longer than this.
	maxMessageLen         = 2000
	defaultRequestTimeout = 3 * time.Minute
	sessionNamespace      = "foursight"
)

// Conversation is the part of the orchestrator API the bridge needs.
type Conversation interface {
	SendMessage(ctx context.Context, sessionID, text string) (types.Reply, error)
}

var _ Conversation = (*client.Client)(nil)

type Sender interface {
	SendMessage(channelID string, content string) error
}

type Config struct {
	BotToken       string
	RequestTimeout time.Duration
}

// Listener forwards channel messages to the orchestrator, one session per
// channel, and posts the replies back.
type Listener struct {
	cfg    Config
	logger *log.Logger
	api    Conversation
	sender Sender

	mu      sync.Mutex
	session *discordgo.Session
}

// NewListener builds a listener. A nil sender posts replies through the
// Discord session opened by Start.
func NewListener(cfg Config, logger *log.Logger, api Conversation, sender Sender) *Listener {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &Listener{
		cfg:    cfg,
		logger: logger,
		api:    api,
		sender: sender,
	}
}

func (l *Listener) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session != nil {
		return fmt.Errorf("listener already started")
	}

	s, err := discordgo.New(normalizeBotToken(l.cfg.BotToken))
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	s.AddHandler(l.handleMessage)
	if err := s.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	if l.sender == nil {
		l.sender = sessionSender{session: s}
	}
	l.session = s
	l.logger.Printf("discord listener started")
	return nil
}

func (l *Listener) Stop() error {
	l.mu.Lock()
	s := l.session
	l.session = nil
	l.mu.Unlock()

	if s == nil {
		return nil
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	l.logger.Printf("discord listener stopped")
	return nil
}

func (l *Listener) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	if m.Author.Bot {
		return
	}
	text := strings.TrimSpace(m.Content)
	if text == "" {
		return
	}

	sessionID := BuildSessionID(m.ChannelID)
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.RequestTimeout)
	defer cancel()

	reply, err := l.api.SendMessage(ctx, sessionID, text)
	content := reply.Message
	if err != nil {
		l.logger.Printf("failed to forward message channel_id=%s session_id=%s err=%v", m.ChannelID, sessionID, err)
		content = errorText(err)
	}

	l.mu.Lock()
	sender := l.sender
	l.mu.Unlock()
	if sender == nil {
		l.logger.Printf("no discord sender configured channel_id=%s", m.ChannelID)
		return
	}
	for _, chunk := range splitMessage(content, maxMessageLen) {
		if err := sender.SendMessage(m.ChannelID, chunk); err != nil {
			l.logger.Printf("failed to post reply channel_id=%s err=%v", m.ChannelID, err)
			return
		}
	}
}

func errorText(err error) string {
	switch client.Code(err) {
	case "unexpected_answer":
		return "That answer doesn't match the question I'm waiting on. Please answer the last question."
	case "invalid_selection":
		return "I couldn't use that selection. Reply with framework numbers or ids from the list."
	case "session_busy":
		return "I'm still working on your previous message. Give me a moment."
	case "synthesis_failed":
		return "The analyses are done, but I couldn't combine them into a recommendation. Send any message to try again."
	default:
		return "Sorry, something went wrong while processing that message."
	}
}

// BuildSessionID maps a Discord channel to its session id.
func BuildSessionID(channelID string) string {
	sum := sha256.Sum256([]byte(sessionNamespace + ":discord:" + strings.TrimSpace(channelID)))
	return "discord:" + hex.EncodeToString(sum[:16])
}

// splitMessage cuts content into chunks of at most limit bytes, preferring
// line breaks.
func splitMessage(content string, limit int) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	var chunks []string
	for len(content) > limit {
		cut := strings.LastIndex(content[:limit], "\n")
		if cut <= 0 {
			cut = limit
			// Don't split a multi-byte rune.
			for cut > 0 && !utf8.RuneStart(content[cut]) {
				cut--
			}
		}
		chunks = append(chunks, strings.TrimSpace(content[:cut]))
		content = strings.TrimSpace(content[cut:])
	}
	if content != "" {
		chunks = append(chunks, content)
	}
	return chunks
}

type sessionSender struct {
	session *discordgo.Session
}

func (s sessionSender) SendMessage(channelID string, content string) error {
	channelID = strings.TrimSpace(channelID)
	content = strings.TrimSpace(content)
	if channelID == "" {
		return fmt.Errorf("channel id is required")
	}
	if content == "" {
		return nil
	}
	_, err := s.session.ChannelMessageSend(channelID, content)
	return err
}

func normalizeBotToken(token string) string {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(strings.ToLower(token), "bot ") {
		return token
	}
	return "Bot " + token
}
