package game

import (
	"fmt"
	"sort"
	"strings"

	"trivia-game-bot/internal/model"
)

// Ephemeral rejection notices.
const (
	noticeStale         = "This button has expired!"
	noticeNotYourTurn   = "It is not your turn!"
	noticeAlreadyJoined = "You have already joined the game!"
	noticeThemeChosen   = "A theme has already been chosen!"
	noticeGameRunning   = "A game is already running in this chat!"
)

const blockFooter = "======================================"

// block frames announcement lines the way the final summaries look in chat.
func block(head string, lines []string, foot bool) string {
	if head == "" {
		head = "======"
	}
	out := make([]string, 0, len(lines)+2)
	out = append(out, fmt.Sprintf("=================%s=================", head))
	out = append(out, lines...)
	if foot {
		out = append(out, blockFooter)
	}
	return strings.Join(out, "\n\n")
}

func msgDurationChanged(seconds int) string {
	return fmt.Sprintf("Game duration changed to %d seconds", seconds)
}

func msgResponseTimeChanged(seconds int) string {
	return fmt.Sprintf("Answer time changed to %d seconds", seconds)
}

func startAnnouncement(initiator *model.Player, prepSeconds int) string {
	lines := []string{
		fmt.Sprintf("A new game was initiated by %s", initiator.DisplayName()),
		"The game is starting! Press the button to join!",
		fmt.Sprintf("Player recruitment lasts %d seconds!", prepSeconds),
		"The player who started the game can begin it early by typing /begin",
		"The initiator can also set the game duration and answer time:",
		"type /duration {seconds} and /answer_time {seconds}",
		"Press \"Show info\" for the current game state.",
		"You can finish the game at any moment with \"Finish game\".",
	}
	return block("START=", lines, false)
}

func standingLines(standings []model.PlayerStanding) []string {
	lines := make([]string, 0, len(standings))
	for _, s := range standings {
		lines = append(lines, fmt.Sprintf(
			" -> %s\n-----Track: %s\n-----Right answers: %d/%d\n-----Wrong answers: %d/%d",
			s.Player.DisplayName(),
			s.Difficulty.Title,
			s.RightAnswers, s.Difficulty.RightAnswersToWin,
			s.WrongAnswers, s.Difficulty.WrongAnswersToLose,
		))
	}
	return lines
}

// splitStandings partitions standings into still-playing and eliminated,
// each sorted by right answers descending.
func splitStandings(standings []model.PlayerStanding) (active, lost []model.PlayerStanding) {
	for _, s := range standings {
		if s.IsLost {
			lost = append(lost, s)
		} else {
			active = append(active, s)
		}
	}
	sortByRightAnswersDesc(active)
	sortByRightAnswersDesc(lost)
	return active, lost
}

func sortByRightAnswersDesc(standings []model.PlayerStanding) {
	sort.SliceStable(standings, func(i, j int) bool {
		return standings[i].RightAnswers > standings[j].RightAnswers
	})
}

// standingsReport builds the active/eliminated listing used by the finish
// command and the info command during active play.
func standingsReport(remaining int, standings []model.PlayerStanding) []string {
	active, lost := splitStandings(standings)
	lines := []string{
		fmt.Sprintf("Players remaining: %d", remaining),
		"Remaining players:",
	}
	lines = append(lines, standingLines(active)...)
	if len(lost) > 0 {
		lines = append(lines, fmt.Sprintf("Eliminated players: %d", len(lost)))
		lines = append(lines, "Eliminated:")
		lines = append(lines, standingLines(lost)...)
	}
	return lines
}
