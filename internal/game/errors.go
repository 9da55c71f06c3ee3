package game

import (
	"errors"

	"trivia-game-bot/internal/repository"
)

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrSessionNotFound)
}

func isStatusNotFound(err error) bool {
	return errors.Is(err, repository.ErrStatusNotFound)
}

func isQueueEmpty(err error) bool {
	return errors.Is(err, repository.ErrQueueEmpty)
}
