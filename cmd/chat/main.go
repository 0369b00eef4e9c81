// Command chat runs the tutor conversation in the terminal, without the web
// gateway. Useful for trying prompts and checking feedback quality. When a
// voice key is configured, replies are rendered as WAV files instead of
// played back.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"kaiwa/audio"
	"kaiwa/bookmark"
	"kaiwa/config"
	"kaiwa/conversation"
	"kaiwa/core"
	"kaiwa/playback"
	"kaiwa/session"
	gemini "kaiwa/services/gemini/tts"
	"kaiwa/services/openai/tutor"
	"kaiwa/store"
)

func main() {
	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	_ = godotenv.Load(".env.local")

	cfg, err := config.LoadConfig()
	if err != nil {
		fail("load config: %v", err)
	}

	logger := zap.NewNop()
	if os.Getenv("CHAT_DEBUG") != "" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	settings, err := config.SettingsFromFile(cfg.SettingsPath)
	if err != nil {
		settings = config.DefaultSettings()
	}
	settings.InjectAPIKeys(config.APIKeys{
		OpenAI:        cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		Gemini:        cfg.GeminiAPIKey,
		GeminiBaseURL: cfg.GeminiBaseURL,
	})
	if settings.Tutor.APIKey == "" {
		fail("OPENAI_API_KEY is required")
	}

	var backend store.Store
	if fs, err := store.NewFileStore(cfg.DataDir); err == nil {
		backend = fs
	} else {
		fmt.Fprintf(os.Stderr, "chat: file store unavailable (%v), using memory\n", err)
		backend = store.NewMemoryStore()
	}
	run(ctx, reader, cfg, settings, backend, logger)
}

func run(ctx context.Context, reader *bufio.Reader, cfg *config.Config, settings config.Settings, backend store.Store, logger *zap.Logger) {
	defer backend.Close()

	sessions := session.NewStore(settings.Session, backend, logger)
	sessions.Load(ctx)
	bookmarks := bookmark.NewStore(backend, logger)
	bookmarks.Load(ctx)

	tut := tutor.NewService(settings.Tutor, logger)
	if err := tut.Initialize(ctx); err != nil {
		fail("tutor: %v", err)
	}
	defer tut.Cleanup()

	var speaker playback.Speaker = silentSpeaker{}
	voice := false
	if settings.TTS.APIKey != "" {
		tts := gemini.NewService(settings.TTS, logger)
		if err := tts.Initialize(ctx); err != nil {
			fail("voice: %v", err)
		}
		defer tts.Cleanup()
		speaker = &fileSpeaker{tts: tts, dir: cfg.DataDir}
		voice = true
	}
	controller := playback.NewController(speaker, nil, logger)
	engine := conversation.NewEngine(settings.Conversation, sessions, tut, controller, logger)

	// The terminal renders state synchronously, so the event stream only
	// needs draining.
	go func() {
		for range engine.Events() {
		}
	}()

	if sess, ok := sessions.Active(); ok {
		printSession(sess)
	}
	fmt.Println(`(type in the practice language; /help lists commands)`)

	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := command(ctx, line, engine, sessions, bookmarks, voice); quit {
				return
			}
			continue
		}

		if err := engine.Send(ctx, line); err != nil {
			fmt.Printf("!! %v\n", err)
			continue
		}
		if sess, ok := sessions.Active(); ok {
			printLatestTurn(sess)
		}
	}
}

func command(ctx context.Context, line string, engine *conversation.Engine, sessions *session.Store, bookmarks *bookmark.Store, voice bool) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Println(`/new            start a new conversation
/list           list conversations
/select N       switch to conversation N
/clear          delete all conversations
/save           bookmark the last reply
/save fix       bookmark the last correction
/save TEXT      bookmark arbitrary text
/bookmarks      list bookmarks
/export [PATH]  write bookmarks as markdown
/speak          read the last reply aloud
/quit           leave`)

	case "/new":
		sess := engine.NewSession(ctx)
		printSession(sess)

	case "/list":
		active := sessions.ActiveID()
		for i, sess := range sessions.Sessions() {
			marker := "  "
			if sess.ID == active {
				marker = "* "
			}
			fmt.Printf("%s[%d] %s (%d messages)\n", marker, i+1, sess.Title, len(sess.Messages))
		}

	case "/select":
		idx, err := strconv.Atoi(arg)
		all := sessions.Sessions()
		if err != nil || idx < 1 || idx > len(all) {
			fmt.Println("!! usage: /select N (see /list)")
			break
		}
		engine.SelectSession(ctx, all[idx-1].ID)
		if sess, ok := sessions.Active(); ok {
			printSession(sess)
		}

	case "/clear":
		sess := engine.ClearAll(ctx)
		fmt.Println("-- all conversations deleted --")
		printSession(sess)

	case "/save":
		saveBookmark(ctx, arg, sessions, bookmarks)

	case "/bookmarks":
		sentences := bookmarks.Sentences()
		if len(sentences) == 0 {
			fmt.Println("(no bookmarks yet)")
			break
		}
		for i, s := range sentences {
			fmt.Printf("[%d] %s", i+1, s.Text)
			if s.Translation != "" {
				fmt.Printf(" / %s", s.Translation)
			}
			fmt.Printf(" (%s)\n", s.Source)
		}

	case "/export":
		path := arg
		if path == "" {
			path = "bookmarks.md"
		}
		if err := os.WriteFile(path, []byte(bookmarks.ExportMarkdown()), 0o644); err != nil {
			fmt.Printf("!! export: %v\n", err)
			break
		}
		fmt.Printf("-- exported to %s --\n", path)

	case "/speak":
		if !voice {
			fmt.Println("!! voice is not configured (set GEMINI_API_KEY)")
			break
		}
		sess, ok := sessions.Active()
		if !ok {
			break
		}
		msg, ok := sess.LastAIMessage()
		if !ok {
			fmt.Println("!! nothing to speak yet")
			break
		}
		if err := engine.ToggleSpeak(ctx, msg.ID); err != nil {
			fmt.Printf("!! speak: %v\n", err)
		}

	default:
		fmt.Printf("!! unknown command %s (try /help)\n", cmd)
	}
	return false
}

func saveBookmark(ctx context.Context, arg string, sessions *session.Store, bookmarks *bookmark.Store) {
	sess, ok := sessions.Active()
	if !ok {
		return
	}
	switch {
	case arg == "":
		msg, ok := sess.LastAIMessage()
		if !ok {
			fmt.Println("!! nothing to save yet")
			return
		}
		saved := bookmarks.Save(ctx, msg.Text, msg.Translation, core.SourceReply, "")
		fmt.Printf("-- saved: %s --\n", saved.Text)
	case arg == "fix":
		for i := len(sess.Messages) - 1; i >= 0; i-- {
			msg := sess.Messages[i]
			if msg.Sender == core.SenderUser && msg.Feedback != nil {
				saved := bookmarks.Save(ctx, msg.Feedback.Corrected, "", core.SourceCorrection, msg.Feedback.Explanation)
				fmt.Printf("-- saved: %s --\n", saved.Text)
				return
			}
		}
		fmt.Println("!! no correction to save yet")
	default:
		saved := bookmarks.Save(ctx, arg, "", core.SourceSelection, "")
		fmt.Printf("-- saved: %s --\n", saved.Text)
	}
}

func printSession(sess core.ChatSession) {
	fmt.Printf("━━ %s ━━\n", sess.Title)
	for _, msg := range sess.Messages {
		printMessage(msg)
	}
}

// printLatestTurn shows the user message (with feedback) and the reply that
// a send just appended.
func printLatestTurn(sess core.ChatSession) {
	start := len(sess.Messages) - 2
	if start < 0 {
		start = 0
	}
	for _, msg := range sess.Messages[start:] {
		printMessage(msg)
	}
}

func printMessage(msg core.Message) {
	switch msg.Sender {
	case core.SenderUser:
		fmt.Printf("you: %s\n", msg.Text)
		if msg.Feedback != nil {
			fmt.Printf("  ✎ %s (%d/100)\n", msg.Feedback.Corrected, msg.Feedback.Naturalness)
			if msg.Feedback.Explanation != "" {
				fmt.Printf("    %s\n", msg.Feedback.Explanation)
			}
		}
	default:
		fmt.Printf("ai: %s\n", msg.Text)
		if msg.Translation != "" {
			fmt.Printf("    %s\n", msg.Translation)
		}
	}
}

// ── Speakers ──────────────────────────────────────────────────────────────────

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// silentSpeaker satisfies the playback interface when no voice is set up.
type silentSpeaker struct{}

func (silentSpeaker) Speak(ctx context.Context, text string) (playback.Utterance, error) {
	return finishedUtterance{}, nil
}

type finishedUtterance struct{}

func (finishedUtterance) Done() <-chan struct{} { return closedDone }
func (finishedUtterance) Stop()                 {}

// fileSpeaker renders utterances as WAV files under the data directory.
// There is no real playout, so utterances finish immediately.
type fileSpeaker struct {
	tts *gemini.Service
	dir string
	n   int
}

func (s *fileSpeaker) Speak(ctx context.Context, text string) (playback.Utterance, error) {
	chunk, err := s.tts.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	pcm, err := audio.StripWAVHeaderIfPresent(*chunk.Data)
	if err != nil {
		return nil, err
	}
	wav, err := audio.PCMBytesToWavBytes(pcm, chunk.Channels, chunk.SampleRate)
	if err != nil {
		return nil, err
	}

	dir := s.dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s.n++
	path := filepath.Join(dir, fmt.Sprintf("reply-%03d.wav", s.n))
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return nil, err
	}
	fmt.Printf("♪ %s (%.1fs)\n", path, chunk.GetDurationInSeconds())
	return finishedUtterance{}, nil
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "chat: "+format+"\n", args...)
	os.Exit(1)
}
