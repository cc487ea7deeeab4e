package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/maryam-mebel/support-bot/internal/config"
	"github.com/maryam-mebel/support-bot/internal/database"
	"github.com/maryam-mebel/support-bot/internal/kafka"
	"github.com/maryam-mebel/support-bot/internal/service"
	"github.com/maryam-mebel/support-bot/internal/telegram"
)

// sweepCmd — разовый проход доставки накопившихся ответов. Полезен, когда
// бот остановлен, а сайт продолжал писать в журнал.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Deliver pending admin replies once and exit",
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	tg, err := telegram.NewBot(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	users := service.NewUserService(db)
	tickets := service.NewTicketService(db, tg, kafka.NewProducer(nil, ""), users, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	total := 0
	for {
		sent, processed, err := tickets.RelayPending(ctx, cfg.RelayBatch)
		if err != nil {
			return fmt.Errorf("relay: %w", err)
		}
		total += sent
		if processed == 0 {
			break
		}
	}
	log.Printf("sweep: delivered %d message(s)", total)
	return nil
}
