package game

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trivia-game-bot/internal/event"
	"trivia-game-bot/internal/model"
	"trivia-game-bot/internal/pkg/lock"
	"trivia-game-bot/internal/repository"
)

// --- in-memory fakes ---

type fakeSessions struct {
	nextID   int64
	sessions map[int64]model.Session

	// liveHook, when set, runs at the top of GetLiveByChat. Used to stall a
	// handler mid-flight while a timer races it.
	liveHook func()
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[int64]model.Session)}
}

func (f *fakeSessions) Create(_ context.Context, chatID, startedBy int64, responseTime, sessionDuration int) (*model.Session, error) {
	f.nextID++
	s := model.Session{
		ID:              f.nextID,
		ChatID:          chatID,
		StartedBy:       startedBy,
		Status:          model.StatusPrepared,
		ResponseTime:    responseTime,
		SessionDuration: sessionDuration,
		StartedAt:       time.Now(),
	}
	f.sessions[s.ID] = s
	cp := s
	return &cp, nil
}

func (f *fakeSessions) GetByID(_ context.Context, id int64) (*model.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	cp := s
	return &cp, nil
}

func (f *fakeSessions) GetLiveByChat(_ context.Context, chatID int64) (*model.Session, error) {
	if f.liveHook != nil {
		f.liveHook()
	}
	var best *model.Session
	for id := range f.sessions {
		s := f.sessions[id]
		if s.ChatID != chatID || !s.Status.IsLive() {
			continue
		}
		if best == nil || s.ID > best.ID {
			cp := s
			best = &cp
		}
	}
	if best == nil {
		return nil, repository.ErrSessionNotFound
	}
	return best, nil
}

func (f *fakeSessions) Update(_ context.Context, s *model.Session) error {
	if _, ok := f.sessions[s.ID]; !ok {
		return repository.ErrSessionNotFound
	}
	f.sessions[s.ID] = *s
	return nil
}

type fakePlayers struct {
	nextPlayerID int64
	nextStatusID int64
	players      map[int64]model.Player        // by chat user id
	statuses     map[string]model.PlayerStatus // by "playerID/sessionID"
}

func newFakePlayers() *fakePlayers {
	return &fakePlayers{
		players:  make(map[int64]model.Player),
		statuses: make(map[string]model.PlayerStatus),
	}
}

func statusKey(playerID, sessionID int64) string {
	return fmt.Sprintf("%d/%d", playerID, sessionID)
}

func (f *fakePlayers) GetOrCreate(_ context.Context, chatUserID int64, firstName, lastName string) (*model.Player, error) {
	if p, ok := f.players[chatUserID]; ok {
		cp := p
		return &cp, nil
	}
	f.nextPlayerID++
	p := model.Player{
		ID:         f.nextPlayerID,
		ChatUserID: chatUserID,
		FirstName:  firstName,
		LastName:   lastName,
	}
	f.players[chatUserID] = p
	cp := p
	return &cp, nil
}

func (f *fakePlayers) GetByChatUserID(_ context.Context, chatUserID int64) (*model.Player, error) {
	p, ok := f.players[chatUserID]
	if !ok {
		return nil, repository.ErrPlayerNotFound
	}
	cp := p
	return &cp, nil
}

func (f *fakePlayers) Update(_ context.Context, p *model.Player) error {
	if _, ok := f.players[p.ChatUserID]; !ok {
		return repository.ErrPlayerNotFound
	}
	f.players[p.ChatUserID] = *p
	return nil
}

func (f *fakePlayers) CreateStatus(_ context.Context, playerID, sessionID, difficultyID int64) (*model.PlayerStatus, error) {
	f.nextStatusID++
	st := model.PlayerStatus{
		ID:           f.nextStatusID,
		PlayerID:     playerID,
		SessionID:    sessionID,
		DifficultyID: difficultyID,
	}
	f.statuses[statusKey(playerID, sessionID)] = st
	cp := st
	return &cp, nil
}

func (f *fakePlayers) GetStatus(_ context.Context, playerID, sessionID int64) (*model.PlayerStatus, error) {
	st, ok := f.statuses[statusKey(playerID, sessionID)]
	if !ok {
		return nil, repository.ErrStatusNotFound
	}
	cp := st
	return &cp, nil
}

func (f *fakePlayers) UpdateStatus(_ context.Context, st *model.PlayerStatus) error {
	key := statusKey(st.PlayerID, st.SessionID)
	if _, ok := f.statuses[key]; !ok {
		return repository.ErrStatusNotFound
	}
	f.statuses[key] = *st
	return nil
}

func (f *fakePlayers) CountBySession(_ context.Context, sessionID int64) (int, error) {
	count := 0
	for _, st := range f.statuses {
		if st.SessionID == sessionID {
			count++
		}
	}
	return count, nil
}

func (f *fakePlayers) ListStandings(_ context.Context, sessionID int64) ([]model.PlayerStanding, error) {
	var out []model.PlayerStanding
	// Smallest status id first matches the repository's join-order listing
	// when every player is on the same difficulty.
	for id := int64(1); id <= f.nextStatusID; id++ {
		for _, st := range f.statuses {
			if st.ID != id || st.SessionID != sessionID {
				continue
			}
			var player model.Player
			for _, p := range f.players {
				if p.ID == st.PlayerID {
					player = p
				}
			}
			out = append(out, model.PlayerStanding{
				PlayerStatus: st,
				Player:       player,
			})
		}
	}
	return out, nil
}

type fakeDifficulties struct {
	list []model.Difficulty
}

func (f *fakeDifficulties) GetByID(_ context.Context, id int64) (*model.Difficulty, error) {
	for _, d := range f.list {
		if d.ID == id {
			cp := d
			return &cp, nil
		}
	}
	return nil, repository.ErrDifficultyNotFound
}

func (f *fakeDifficulties) GetRandom(_ context.Context) (*model.Difficulty, error) {
	if len(f.list) == 0 {
		return nil, repository.ErrDifficultyNotFound
	}
	cp := f.list[0]
	return &cp, nil
}

type fakeQuiz struct {
	themes    []model.Theme
	questions []model.Question
}

func (f *fakeQuiz) ListThemes(_ context.Context) ([]model.Theme, error) {
	out := make([]model.Theme, len(f.themes))
	copy(out, f.themes)
	return out, nil
}

func (f *fakeQuiz) ListQuestions(_ context.Context, themeID, difficultyID int64, excludeIDs []int64) ([]model.Question, error) {
	excluded := make(map[int64]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}
	var out []model.Question
	for _, q := range f.questions {
		if q.ThemeID == themeID && q.DifficultyID == difficultyID && !excluded[q.ID] {
			out = append(out, q)
		}
	}
	return out, nil
}

type fakeQueue struct {
	queues   map[int64][]int64
	answered map[int64][]int64
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		queues:   make(map[int64][]int64),
		answered: make(map[int64][]int64),
	}
}

func (f *fakeQueue) Seed(_ context.Context, sessionID int64, userIDs []int64) error {
	f.queues[sessionID] = append([]int64(nil), userIDs...)
	return nil
}

func (f *fakeQueue) Current(_ context.Context, sessionID int64) (int64, error) {
	q := f.queues[sessionID]
	if len(q) == 0 {
		return 0, repository.ErrQueueEmpty
	}
	return q[0], nil
}

func (f *fakeQueue) Advance(_ context.Context, sessionID int64) (int64, error) {
	q := f.queues[sessionID]
	if len(q) == 0 {
		return 0, repository.ErrQueueEmpty
	}
	q = append(q[1:], q[0])
	f.queues[sessionID] = q
	return q[0], nil
}

func (f *fakeQueue) EliminateCurrent(_ context.Context, sessionID int64) error {
	q := f.queues[sessionID]
	if len(q) == 0 {
		return repository.ErrQueueEmpty
	}
	f.queues[sessionID] = q[1:]
	return nil
}

func (f *fakeQueue) Length(_ context.Context, sessionID int64) (int, error) {
	return len(f.queues[sessionID]), nil
}

func (f *fakeQueue) Clear(_ context.Context, sessionID int64) error {
	delete(f.queues, sessionID)
	delete(f.answered, sessionID)
	return nil
}

func (f *fakeQueue) AddAnswered(_ context.Context, sessionID, questionID int64) error {
	f.answered[sessionID] = append(f.answered[sessionID], questionID)
	return nil
}

func (f *fakeQueue) AnsweredQuestions(_ context.Context, sessionID int64) ([]int64, error) {
	return append([]int64(nil), f.answered[sessionID]...), nil
}

type scheduledTimer struct {
	sessionID int64
	delay     time.Duration
	fn        func(ctx context.Context)
	cancelled bool
}

type fakeTimers struct {
	scheduled []*scheduledTimer
}

func (f *fakeTimers) Schedule(sessionID int64, delay time.Duration, fn func(ctx context.Context)) {
	f.scheduled = append(f.scheduled, &scheduledTimer{sessionID: sessionID, delay: delay, fn: fn})
}

func (f *fakeTimers) CancelAll(sessionID int64) {
	for _, t := range f.scheduled {
		if t.sessionID == sessionID {
			t.cancelled = true
		}
	}
}

// fire runs a timer callback regardless of cancellation, modelling the race
// where a timer fires just before the cancel lands.
func (f *fakeTimers) fire(i int) {
	f.scheduled[i].fn(context.Background())
}

func (f *fakeTimers) pending(sessionID int64) int {
	count := 0
	for _, t := range f.scheduled {
		if t.sessionID == sessionID && !t.cancelled {
			count++
		}
	}
	return count
}

type sentMessage struct {
	chatID  int64
	text    string
	buttons []Button
}

type editedMessage struct {
	chatID    int64
	messageID int
	text      string
}

type fakeMessenger struct {
	nextID  int
	sent    []sentMessage
	edits   []editedMessage
	notices []string
}

func (f *fakeMessenger) Send(_ context.Context, chatID int64, text string, buttons []Button) (int, error) {
	f.nextID++
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, buttons: buttons})
	return 100 + f.nextID, nil
}

func (f *fakeMessenger) Edit(_ context.Context, chatID int64, messageID int, text string, _ []Button) error {
	f.edits = append(f.edits, editedMessage{chatID: chatID, messageID: messageID, text: text})
	return nil
}

func (f *fakeMessenger) Notify(_ context.Context, _ string, text string) error {
	f.notices = append(f.notices, text)
	return nil
}

func (f *fakeMessenger) lastText() string {
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].text
}

// findButtons returns the buttons of the most recent message whose text
// contains the given fragment.
func (f *fakeMessenger) findButtons(fragment string) []Button {
	for i := len(f.sent) - 1; i >= 0; i-- {
		if strings.Contains(f.sent[i].text, fragment) {
			return f.sent[i].buttons
		}
	}
	return nil
}

func (f *fakeMessenger) sentContaining(fragment string) bool {
	for _, m := range f.sent {
		if strings.Contains(m.text, fragment) {
			return true
		}
	}
	return false
}

// --- fixture ---

type fixture struct {
	sessions     *fakeSessions
	players      *fakePlayers
	difficulties *fakeDifficulties
	quiz         *fakeQuiz
	queue        *fakeQueue
	timers       *fakeTimers
	msgr         *fakeMessenger
	locks        *lock.ChatLock
	orch         *Orchestrator
}

func newFixture(difficulties ...model.Difficulty) *fixture {
	if len(difficulties) == 0 {
		difficulties = []model.Difficulty{
			{ID: 1, Title: "green", RightAnswersToWin: 5, WrongAnswersToLose: 3},
		}
	}
	f := &fixture{
		sessions:     newFakeSessions(),
		players:      newFakePlayers(),
		difficulties: &fakeDifficulties{list: difficulties},
		quiz: &fakeQuiz{
			themes: []model.Theme{{ID: 1, Title: "History"}},
			questions: []model.Question{
				{
					ID: 1, Title: "In what year did WW2 end?", ThemeID: 1, DifficultyID: difficulties[0].ID,
					Answers: []model.Answer{
						{ID: 1, QuestionID: 1, Title: "1945", IsCorrect: true},
						{ID: 2, QuestionID: 1, Title: "1939"},
						{ID: 3, QuestionID: 1, Title: "1918"},
					},
				},
				{
					ID: 2, Title: "Who was the first man in space?", ThemeID: 1, DifficultyID: difficulties[0].ID,
					Answers: []model.Answer{
						{ID: 4, QuestionID: 2, Title: "Gagarin", IsCorrect: true},
						{ID: 5, QuestionID: 2, Title: "Armstrong"},
					},
				},
				{
					ID: 3, Title: "Which empire built the Colosseum?", ThemeID: 1, DifficultyID: difficulties[0].ID,
					Answers: []model.Answer{
						{ID: 6, QuestionID: 3, Title: "Rome", IsCorrect: true},
						{ID: 7, QuestionID: 3, Title: "Greece"},
					},
				},
			},
		},
		queue:  newFakeQueue(),
		timers: &fakeTimers{},
		msgr:   &fakeMessenger{},
		locks:  lock.NewChatLock(),
	}
	f.orch = New(f.sessions, f.players, f.difficulties, f.quiz, f.queue, f.timers, f.msgr, f.locks, Config{
		PrepTimeout:            30 * time.Second,
		DefaultResponseTime:    30,
		DefaultSessionDuration: 1800,
		ThemeSampleSize:        3,
	})
	return f
}

func messageEvent(chatID, userID int64, text string) event.Event {
	return event.Event{
		Kind:      event.KindMessage,
		ChatID:    chatID,
		UserID:    userID,
		FirstName: fmt.Sprintf("Player%d", userID),
		Text:      text,
	}
}

func callbackEvent(chatID, userID int64, messageID int, payload event.Payload) event.Event {
	return event.Event{
		Kind:       event.KindCallback,
		ChatID:     chatID,
		UserID:     userID,
		FirstName:  fmt.Sprintf("Player%d", userID),
		CallbackID: fmt.Sprintf("cb-%d", userID),
		MessageID:  messageID,
		Payload:    payload,
	}
}

const testChat = int64(500)

func (f *fixture) start(t *testing.T, userID int64) *model.Session {
	t.Helper()
	require.NoError(t, f.orch.HandleEvent(context.Background(), messageEvent(testChat, userID, "/start")))
	session, err := f.sessions.GetLiveByChat(context.Background(), testChat)
	require.NoError(t, err)
	return session
}

func (f *fixture) join(t *testing.T, session *model.Session, userID int64) {
	t.Helper()
	ev := callbackEvent(testChat, userID, 1, event.Payload{
		Command:   event.CmdJoin,
		SessionID: session.ID,
	})
	require.NoError(t, f.orch.HandleEvent(context.Background(), ev))
}

// activeGame starts a session, joins the given users and begins the game via
// the initiator's /begin. The first user is the initiator.
func (f *fixture) activeGame(t *testing.T, userIDs ...int64) *model.Session {
	t.Helper()
	session := f.start(t, userIDs[0])
	for _, id := range userIDs {
		f.join(t, session, id)
	}
	require.NoError(t, f.orch.HandleEvent(context.Background(), messageEvent(testChat, userIDs[0], "/begin")))
	session, err := f.sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusActive, session.Status)
	return session
}

// chooseTheme presses the most recent theme button as the given user.
func (f *fixture) chooseTheme(t *testing.T, userID int64) {
	t.Helper()
	buttons := f.msgr.findButtons("Pick a question theme!")
	require.NotEmpty(t, buttons)
	ev := callbackEvent(testChat, userID, 2, buttons[0].Payload)
	require.NoError(t, f.orch.HandleEvent(context.Background(), ev))
}

// answerQuestion presses a correct or wrong answer button as the given user.
func (f *fixture) answerQuestion(t *testing.T, userID int64, correct bool) {
	t.Helper()
	buttons := f.msgr.findButtons("Question:")
	require.NotEmpty(t, buttons)
	for _, b := range buttons {
		if b.Payload.IsCorrect == correct {
			ev := callbackEvent(testChat, userID, 3, b.Payload)
			require.NoError(t, f.orch.HandleEvent(context.Background(), ev))
			return
		}
	}
	t.Fatalf("no answer button with correct=%v", correct)
}

// --- preparation stage ---

func TestStartCreatesPreparedSession(t *testing.T) {
	f := newFixture()

	session := f.start(t, 10)

	assert.Equal(t, model.StatusPrepared, session.Status)
	assert.Equal(t, int64(10), session.StartedBy)
	assert.Equal(t, 0, session.MoveNumber)
	assert.Equal(t, 30, session.ResponseTime)
	assert.Equal(t, 1800, session.SessionDuration)
	require.NotNil(t, session.StartMessageID)

	buttons := f.msgr.findButtons("A new game was initiated")
	require.Len(t, buttons, 3)
	assert.Equal(t, event.CmdJoin, buttons[0].Payload.Command)
	assert.Equal(t, session.ID, buttons[0].Payload.SessionID)

	assert.Equal(t, 1, f.timers.pending(session.ID))
}

func TestStartWhileGameLiveIsRejected(t *testing.T) {
	f := newFixture()
	f.start(t, 10)

	ev := callbackEvent(testChat, 11, 1, event.Payload{Command: event.CmdStart})
	require.NoError(t, f.orch.HandleEvent(context.Background(), ev))

	assert.Contains(t, f.msgr.notices, noticeGameRunning)
	assert.Len(t, f.sessions.sessions, 1)
}

func TestJoinAssignsDifficultyAndCountsGame(t *testing.T) {
	f := newFixture()
	session := f.start(t, 10)

	f.join(t, session, 11)

	player, err := f.players.GetByChatUserID(context.Background(), 11)
	require.NoError(t, err)
	assert.Equal(t, 1, player.GamesCount)

	status, err := f.players.GetStatus(context.Background(), player.ID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.DifficultyID)

	assert.True(t, f.msgr.sentContaining("joined the game!"))
}

func TestJoinTwiceIsRejected(t *testing.T) {
	f := newFixture()
	session := f.start(t, 10)

	f.join(t, session, 11)
	f.join(t, session, 11)

	assert.Contains(t, f.msgr.notices, noticeAlreadyJoined)
	count, err := f.players.CountBySession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestJoinWithStaleSessionIDIsRejected(t *testing.T) {
	f := newFixture()
	session := f.start(t, 10)

	ev := callbackEvent(testChat, 11, 1, event.Payload{
		Command:   event.CmdJoin,
		SessionID: session.ID + 99,
	})
	require.NoError(t, f.orch.HandleEvent(context.Background(), ev))

	assert.Contains(t, f.msgr.notices, noticeStale)
}

func TestDurationAndAnswerTimeCommands(t *testing.T) {
	f := newFixture()
	session := f.start(t, 10)

	ctx := context.Background()
	require.NoError(t, f.orch.HandleEvent(ctx, messageEvent(testChat, 10, "/duration 600")))
	require.NoError(t, f.orch.HandleEvent(ctx, messageEvent(testChat, 10, "/answer_time 45")))

	session, err := f.sessions.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 600, session.SessionDuration)
	assert.Equal(t, 45, session.ResponseTime)
}

func TestTimingCommandsRejectOutOfRangeValues(t *testing.T) {
	f := newFixture()
	session := f.start(t, 10)

	ctx := context.Background()
	for _, text := range []string{
		"/duration 119", "/duration 3601",
		"/answer_time 9", "/answer_time 61",
		"/duration abc",
	} {
		require.NoError(t, f.orch.HandleEvent(ctx, messageEvent(testChat, 10, text)))
	}

	session, err := f.sessions.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1800, session.SessionDuration)
	assert.Equal(t, 30, session.ResponseTime)
}

func TestTimingCommandsIgnoreNonInitiator(t *testing.T) {
	f := newFixture()
	session := f.start(t, 10)

	require.NoError(t, f.orch.HandleEvent(context.Background(),
		messageEvent(testChat, 11, "/duration 600")))

	session, err := f.sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1800, session.SessionDuration)
}

// --- begin evaluation ---

func TestPrepTimeoutWithoutPlayersCancelsGame(t *testing.T) {
	f := newFixture()
	session := f.start(t, 10)

	f.timers.fire(0)

	session, err := f.sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInterrupted, session.Status)
	assert.NotNil(t, session.FinishedAt)
	assert.True(t, f.msgr.sentContaining("nobody joined"))
	assert.True(t, f.msgr.sentContaining("ready for a new game"))
}

func TestPrepTimeoutWithOnePlayerCancelsGame(t *testing.T) {
	f := newFixture()
	session := f.start(t, 10)
	f.join(t, session, 11)

	f.timers.fire(0)

	session, err := f.sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInterrupted, session.Status)
	assert.True(t, f.msgr.sentContaining("only one player joined"))
}

func TestBeginActivatesSessionWithJoinOrderRotation(t *testing.T) {
	f := newFixture()
	session := f.activeGame(t, 10, 11)

	assert.Equal(t, 1, session.MoveNumber)
	assert.False(t, session.QuestionAsked)
	require.NotNil(t, session.AnsweringUserID)
	assert.Equal(t, int64(10), *session.AnsweringUserID)
	assert.Equal(t, []int64{10, 11}, f.queue.queues[session.ID])

	assert.True(t, f.msgr.sentContaining("The game has begun!"))
	assert.NotEmpty(t, f.msgr.findButtons("Pick a question theme!"))
	// Prep timer plus session deadline timer.
	assert.Equal(t, 2, f.timers.pending(session.ID))
}

func TestBeginIgnoresNonInitiator(t *testing.T) {
	f := newFixture()
	session := f.start(t, 10)
	f.join(t, session, 10)
	f.join(t, session, 11)

	require.NoError(t, f.orch.HandleEvent(context.Background(), messageEvent(testChat, 11, "/begin")))

	session, err := f.sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPrepared, session.Status)
}

func TestStalePrepTimerAfterBeginIsHarmless(t *testing.T) {
	f := newFixture()
	session := f.activeGame(t, 10, 11)
	movesBefore := session.MoveNumber

	// The prep timer races the early /begin; firing it now must not restart
	// begin-evaluation.
	f.timers.fire(0)

	session, err := f.sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, session.Status)
	assert.Equal(t, movesBefore, session.MoveNumber)
}

func TestJoinAfterActivationIsRejected(t *testing.T) {
	f := newFixture()
	session := f.activeGame(t, 10, 11)

	ev := callbackEvent(testChat, 12, 1, event.Payload{
		Command:   event.CmdJoin,
		SessionID: session.ID,
	})
	require.NoError(t, f.orch.HandleEvent(context.Background(), ev))

	assert.Contains(t, f.msgr.notices, noticeStale)
	count, err := f.players.CountBySession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

// --- active play ---

func TestThemeChoiceByWrongUserIsRejected(t *testing.T) {
	f := newFixture()
	f.activeGame(t, 10, 11)

	buttons := f.msgr.findButtons("Pick a question theme!")
	require.NotEmpty(t, buttons)
	ev := callbackEvent(testChat, 11, 2, buttons[0].Payload)
	require.NoError(t, f.orch.HandleEvent(context.Background(), ev))

	assert.Contains(t, f.msgr.notices, noticeNotYourTurn)
	assert.False(t, f.msgr.sentContaining("Question:"))
}

func TestThemeChoiceWithStaleMoveIsRejected(t *testing.T) {
	f := newFixture()
	f.activeGame(t, 10, 11)

	buttons := f.msgr.findButtons("Pick a question theme!")
	require.NotEmpty(t, buttons)
	payload := buttons[0].Payload
	payload.MoveNumber = 99
	ev := callbackEvent(testChat, 10, 2, payload)
	require.NoError(t, f.orch.HandleEvent(context.Background(), ev))

	assert.Contains(t, f.msgr.notices, noticeStale)
}

func TestThemeChoiceAsksQuestionAndArmsTimeout(t *testing.T) {
	f := newFixture()
	session := f.activeGame(t, 10, 11)

	f.chooseTheme(t, 10)

	session, err := f.sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.True(t, session.QuestionAsked)
	assert.True(t, f.msgr.sentContaining("Question:"))

	answered, err := f.queue.AnsweredQuestions(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Len(t, answered, 1)

	// Session deadline timer plus the answer timer (prep timer already fired
	// or is stale at index 0).
	assert.Equal(t, 3, f.timers.pending(session.ID))
}

func TestSecondThemeChoiceSameMoveIsRejected(t *testing.T) {
	f := newFixture()
	f.activeGame(t, 10, 11)

	f.chooseTheme(t, 10)
	f.chooseTheme(t, 10)

	assert.Contains(t, f.msgr.notices, noticeThemeChosen)
}

func TestCorrectAnswerAdvancesRotation(t *testing.T) {
	f := newFixture()
	session := f.activeGame(t, 10, 11)
	f.chooseTheme(t, 10)

	f.answerQuestion(t, 10, true)

	session, err := f.sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, session.Status)
	assert.Equal(t, 2, session.MoveNumber)
	require.NotNil(t, session.AnsweringUserID)
	assert.Equal(t, int64(11), *session.AnsweringUserID)
	assert.False(t, session.QuestionAsked)

	player, err := f.players.GetByChatUserID(context.Background(), 10)
	require.NoError(t, err)
	status, err := f.players.GetStatus(context.Background(), player.ID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.RightAnswers)

	assert.True(t, f.msgr.sentContaining("That is the right answer!"))
	assert.True(t, f.msgr.sentContaining("The game continues!"))
}

func TestAnswerByWrongUserIsRejected(t *testing.T) {
	f := newFixture()
	session := f.activeGame(t, 10, 11)
	f.chooseTheme(t, 10)

	f.answerQuestion(t, 11, true)

	assert.Contains(t, f.msgr.notices, noticeNotYourTurn)
	session, err := f.sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, session.MoveNumber)
}

func TestEliminationLeadsToAutoWin(t *testing.T) {
	f := newFixture(model.Difficulty{
		ID: 1, Title: "red", RightAnswersToWin: 3, WrongAnswersToLose: 1,
	})
	session := f.activeGame(t, 10, 11)
	f.chooseTheme(t, 10)

	f.answerQuestion(t, 10, false)

	session, err := f.sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFinished, session.Status)

	winner, err := f.players.GetByChatUserID(context.Background(), 11)
	require.NoError(t, err)
	require.NotNil(t, session.WinnerID)
	assert.Equal(t, winner.ID, *session.WinnerID)
	assert.Equal(t, 1, winner.WinsCount)

	loser, err := f.players.GetByChatUserID(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, loser.LosesCount)

	loserStatus, err := f.players.GetStatus(context.Background(), loser.ID, session.ID)
	require.NoError(t, err)
	assert.True(t, loserStatus.IsLost)

	assert.True(t, f.msgr.sentContaining("is eliminated!"))
	assert.True(t, f.msgr.sentContaining("Only one player remains!"))
	assert.True(t, f.msgr.sentContaining("The game is won by"))

	// Queue entries are gone and no timer stays armed.
	assert.Empty(t, f.queue.queues[session.ID])
	assert.Equal(t, 0, f.timers.pending(session.ID))
}

func TestWinThresholdFinishesGame(t *testing.T) {
	f := newFixture(model.Difficulty{
		ID: 1, Title: "red", RightAnswersToWin: 1, WrongAnswersToLose: 3,
	})
	session := f.activeGame(t, 10, 11)
	f.chooseTheme(t, 10)

	f.answerQuestion(t, 10, true)

	session, err := f.sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFinished, session.Status)

	winner, err := f.players.GetByChatUserID(context.Background(), 10)
	require.NoError(t, err)
	require.NotNil(t, session.WinnerID)
	assert.Equal(t, winner.ID, *session.WinnerID)
	assert.Equal(t, 1, winner.WinsCount)

	other, err := f.players.GetByChatUserID(context.Background(), 11)
	require.NoError(t, err)
	assert.Equal(t, 1, other.LosesCount)
	otherStatus, err := f.players.GetStatus(context.Background(), other.ID, session.ID)
	require.NoError(t, err)
	assert.True(t, otherStatus.IsLost)
}

func TestEliminationWithThreePlayersContinuesGame(t *testing.T) {
	f := newFixture(model.Difficulty{
		ID: 1, Title: "red", RightAnswersToWin: 5, WrongAnswersToLose: 1,
	})
	session := f.activeGame(t, 10, 11, 12)
	f.chooseTheme(t, 10)

	f.answerQuestion(t, 10, false)

	session, err := f.sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, session.Status)
	assert.Equal(t, 2, session.MoveNumber)
	// Front removal: the next responder is already at the front.
	require.NotNil(t, session.AnsweringUserID)
	assert.Equal(t, int64(11), *session.AnsweringUserID)
	assert.Equal(t, []int64{11, 12}, f.queue.queues[session.ID])
}

// --- answer timeout ---

func TestAnswerTimeoutCountsWrongAnswer(t *testing.T) {
	f := newFixture()
	session := f.activeGame(t, 10, 11)
	f.chooseTheme(t, 10)

	// Last scheduled timer is the answer timeout.
	f.timers.fire(len(f.timers.scheduled) - 1)

	session, err := f.sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, session.Status)
	assert.Equal(t, 2, session.MoveNumber)

	player, err := f.players.GetByChatUserID(context.Background(), 10)
	require.NoError(t, err)
	status, err := f.players.GetStatus(context.Background(), player.ID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.WrongAnswers)

	assert.True(t, f.msgr.sentContaining("Time for the answer is up!"))
}

func TestStaleAnswerTimerIsIgnored(t *testing.T) {
	f := newFixture()
	session := f.activeGame(t, 10, 11)
	f.chooseTheme(t, 10)

	answerTimer := len(f.timers.scheduled) - 1
	f.answerQuestion(t, 10, true)

	// The deadline for the already-answered question fires late.
	f.timers.fire(answerTimer)

	session, err := f.sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, session.MoveNumber)

	player, err := f.players.GetByChatUserID(context.Background(), 10)
	require.NoError(t, err)
	status, err := f.players.GetStatus(context.Background(), player.ID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, status.WrongAnswers)
	assert.Equal(t, 1, status.RightAnswers)
}

// A pressed answer and the deadline for the same move must never both be
// counted. The timer callback takes the chat lock, so it can only run after
// the in-flight answer event finishes and its guard sees the advanced move.
func TestAnswerRacingItsOwnTimeoutAdjudicatesOnce(t *testing.T) {
	f := newFixture()
	session := f.activeGame(t, 10, 11)
	f.chooseTheme(t, 10)
	answerTimer := len(f.timers.scheduled) - 1

	buttons := f.msgr.findButtons("Question:")
	require.NotEmpty(t, buttons)
	var payload event.Payload
	for _, b := range buttons {
		if b.Payload.IsCorrect {
			payload = b.Payload
		}
	}

	// Fire the deadline while the answer event has already read the session
	// but not yet adjudicated.
	release := make(chan struct{})
	timerDone := make(chan struct{})
	f.sessions.liveHook = func() {
		f.sessions.liveHook = nil
		close(release)
		time.Sleep(20 * time.Millisecond)
	}
	go func() {
		defer close(timerDone)
		<-release
		f.timers.fire(answerTimer)
	}()

	err := f.locks.WithLock(testChat, func() error {
		return f.orch.HandleEvent(context.Background(), callbackEvent(testChat, 10, 3, payload))
	})
	require.NoError(t, err)
	<-timerDone

	player, err := f.players.GetByChatUserID(context.Background(), 10)
	require.NoError(t, err)
	status, err := f.players.GetStatus(context.Background(), player.ID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.RightAnswers)
	assert.Equal(t, 0, status.WrongAnswers)

	session, err = f.sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, session.MoveNumber)
}

func TestAnswerWithStaleMoveIsRejected(t *testing.T) {
	f := newFixture()
	session := f.activeGame(t, 10, 11)
	f.chooseTheme(t, 10)

	buttons := f.msgr.findButtons("Question:")
	require.NotEmpty(t, buttons)
	payload := buttons[0].Payload
	payload.MoveNumber = 99
	ev := callbackEvent(testChat, 10, 3, payload)
	require.NoError(t, f.orch.HandleEvent(context.Background(), ev))

	assert.Contains(t, f.msgr.notices, noticeStale)

	session, err := f.sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, session.MoveNumber)

	player, err := f.players.GetByChatUserID(context.Background(), 10)
	require.NoError(t, err)
	status, err := f.players.GetStatus(context.Background(), player.ID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, status.RightAnswers)
	assert.Equal(t, 0, status.WrongAnswers)

	length, err := f.queue.Length(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, length)
}

func TestAnswerButtonFromEarlierSessionIsRejected(t *testing.T) {
	f := newFixture()
	f.activeGame(t, 10, 11)
	f.chooseTheme(t, 10)

	buttons := f.msgr.findButtons("Question:")
	require.NotEmpty(t, buttons)
	stale := buttons[0].Payload

	finish := callbackEvent(testChat, 10, 1, event.Payload{Command: event.CmdFinish})
	require.NoError(t, f.orch.HandleEvent(context.Background(), finish))

	// The next game in the chat reaches the same move number, so the old
	// button only fails the session id check.
	session := f.activeGame(t, 10, 11)
	require.Equal(t, stale.MoveNumber, session.MoveNumber)

	require.NoError(t, f.orch.HandleEvent(context.Background(), callbackEvent(testChat, 10, 3, stale)))

	assert.Contains(t, f.msgr.notices, noticeStale)

	player, err := f.players.GetByChatUserID(context.Background(), 10)
	require.NoError(t, err)
	status, err := f.players.GetStatus(context.Background(), player.ID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, status.RightAnswers)
	assert.Equal(t, 0, status.WrongAnswers)
}

func TestThemeButtonFromEarlierSessionIsRejected(t *testing.T) {
	f := newFixture()
	f.activeGame(t, 10, 11)

	buttons := f.msgr.findButtons("Pick a question theme!")
	require.NotEmpty(t, buttons)
	stale := buttons[0].Payload

	finish := callbackEvent(testChat, 10, 1, event.Payload{Command: event.CmdFinish})
	require.NoError(t, f.orch.HandleEvent(context.Background(), finish))

	session := f.activeGame(t, 10, 11)
	require.Equal(t, stale.MoveNumber, session.MoveNumber)

	require.NoError(t, f.orch.HandleEvent(context.Background(), callbackEvent(testChat, 10, 2, stale)))

	assert.Contains(t, f.msgr.notices, noticeStale)

	session, err := f.sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.False(t, session.QuestionAsked)
	assert.False(t, f.msgr.sentContaining("Question:"))
}

// --- termination ---

func TestFinishCommandInterruptsActiveGame(t *testing.T) {
	f := newFixture()
	session := f.activeGame(t, 10, 11)

	ev := callbackEvent(testChat, 11, 1, event.Payload{Command: event.CmdFinish})
	require.NoError(t, f.orch.HandleEvent(context.Background(), ev))

	session, err := f.sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInterrupted, session.Status)
	assert.Nil(t, session.WinnerID)

	assert.True(t, f.msgr.sentContaining("The game was finished by"))
	assert.True(t, f.msgr.sentContaining("Players remaining: 2"))
	assert.True(t, f.msgr.sentContaining("ready for a new game"))
	assert.Empty(t, f.queue.queues[session.ID])
	assert.Equal(t, 0, f.timers.pending(session.ID))
}

func TestFinishCommandDuringPreparationSkipsStandings(t *testing.T) {
	f := newFixture()
	f.start(t, 10)

	ev := callbackEvent(testChat, 10, 1, event.Payload{Command: event.CmdFinish})
	require.NoError(t, f.orch.HandleEvent(context.Background(), ev))

	assert.True(t, f.msgr.sentContaining("The game was finished by"))
	assert.False(t, f.msgr.sentContaining("Players remaining"))
}

func TestFinishCommandWithoutLiveGameIsStale(t *testing.T) {
	f := newFixture()

	ev := callbackEvent(testChat, 10, 1, event.Payload{Command: event.CmdFinish})
	require.NoError(t, f.orch.HandleEvent(context.Background(), ev))

	assert.Contains(t, f.msgr.notices, noticeStale)
}

func TestShowInfoOnlyAnswersInitiator(t *testing.T) {
	f := newFixture()
	f.activeGame(t, 10, 11)
	before := len(f.msgr.sent)

	ev := callbackEvent(testChat, 11, 1, event.Payload{Command: event.CmdShowInfo})
	require.NoError(t, f.orch.HandleEvent(context.Background(), ev))
	assert.Len(t, f.msgr.sent, before)

	ev = callbackEvent(testChat, 10, 1, event.Payload{Command: event.CmdShowInfo})
	require.NoError(t, f.orch.HandleEvent(context.Background(), ev))
	assert.True(t, f.msgr.sentContaining("The game is already on!"))
}

func TestShowInfoDuringPreparationListsRoster(t *testing.T) {
	f := newFixture()
	session := f.start(t, 10)
	f.join(t, session, 11)

	ev := callbackEvent(testChat, 10, 1, event.Payload{Command: event.CmdShowInfo})
	require.NoError(t, f.orch.HandleEvent(context.Background(), ev))

	assert.True(t, f.msgr.sentContaining("preparation stage"))
	assert.True(t, f.msgr.sentContaining("Players joined: 1"))
}

func TestSessionTimeoutFinishesActiveGame(t *testing.T) {
	f := newFixture()
	session := f.activeGame(t, 10, 11)

	require.NoError(t, f.orch.sessionTimeout(context.Background(), session.ID))

	session, err := f.sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFinished, session.Status)
	assert.True(t, f.msgr.sentContaining("time is up!"))
	assert.True(t, f.msgr.sentContaining("ready for a new game"))
}

func TestSessionTimeoutOnFinishedGameIsIgnored(t *testing.T) {
	f := newFixture()
	session := f.activeGame(t, 10, 11)

	ev := callbackEvent(testChat, 10, 1, event.Payload{Command: event.CmdFinish})
	require.NoError(t, f.orch.HandleEvent(context.Background(), ev))
	before := len(f.msgr.sent)

	require.NoError(t, f.orch.sessionTimeout(context.Background(), session.ID))

	assert.Len(t, f.msgr.sent, before)
}

func TestOutOfQuestionsInterruptsGame(t *testing.T) {
	f := newFixture()
	f.quiz.questions = nil
	session := f.activeGame(t, 10, 11)

	f.chooseTheme(t, 10)

	session, err := f.sessions.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInterrupted, session.Status)
	assert.True(t, f.msgr.sentContaining("ran out of eligible questions"))
}

func TestQuestionsAreNotRepeatedWithinSession(t *testing.T) {
	f := newFixture()
	session := f.activeGame(t, 10, 11)

	asked := map[string]bool{}
	for i := 0; i < 3; i++ {
		f.chooseTheme(t, []int64{10, 11}[i%2])
		buttons := f.msgr.findButtons("Question:")
		require.NotEmpty(t, buttons)
		title := buttons[0].Payload.QuestionTitle
		assert.False(t, asked[title], "question repeated: %s", title)
		asked[title] = true
		f.answerQuestion(t, []int64{10, 11}[i%2], true)
	}

	answered, err := f.queue.AnsweredQuestions(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Len(t, answered, 3)
}
