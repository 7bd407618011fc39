package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quizrun/quizrun-backend/internal/config"
	"github.com/quizrun/quizrun-backend/internal/database"
	"github.com/quizrun/quizrun-backend/internal/logger"
	"github.com/quizrun/quizrun-backend/internal/model"
	"github.com/quizrun/quizrun-backend/internal/service"
)

// Seeds one demo quiz covering every question type and prints a handful of
// student tokens, enough to exercise the attempt endpoints locally.
func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	fmt.Println("=== Seeding demo quiz ===")

	quizID := uuid.New()
	_, err = pool.Exec(ctx,
		`INSERT INTO quizzes (id, title, time_limit_seconds) VALUES ($1, $2, $3)`,
		quizID, "General Knowledge Demo", 600)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to insert quiz")
	}

	questions := []struct {
		Type   model.QuestionType
		Prompt string
		Answer string
	}{
		{model.QuestionTypeMultipleChoice, "Which planet is closest to the sun?", "A"},
		{model.QuestionTypeMultipleChoice, "What is 12 x 12?", "C"},
		{model.QuestionTypeText, "What is the capital of Indonesia?", "Jakarta"},
		{model.QuestionTypeMultiSelect, "Select all prime numbers.", "2,3,5"},
	}

	for i, q := range questions {
		_, err := pool.Exec(ctx,
			`INSERT INTO questions (id, quiz_id, position, type, prompt, correct_answer)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New(), quizID, i, q.Type, q.Prompt, q.Answer)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to insert question")
		}
	}

	fmt.Printf("Quiz ID: %s (%d questions, 600s limit)\n", quizID, len(questions))

	tokens := service.NewTokenService(cfg)
	fmt.Println("\n=== Student tokens ===")
	for studentID := 1; studentID <= 3; studentID++ {
		token, err := tokens.GenerateStudentToken(studentID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to generate token")
		}
		fmt.Printf("student %d: %s\n", studentID, token)
	}

	fmt.Println("\nDone.")
}
