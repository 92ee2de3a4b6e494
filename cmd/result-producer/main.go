package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/quicktap/arena/internal/config"
	"github.com/quicktap/arena/internal/domain"
	"github.com/quicktap/arena/internal/kafka"
)

var playerNames = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
}

var avatars = []string{"robot", "cat", "fox", "owl", "alien"}

func player(idx int) domain.MatchPlayer {
	return domain.MatchPlayer{
		UserID:   fmt.Sprintf("loadtest-%06d", idx),
		Username: fmt.Sprintf("%s_%d", playerNames[idx%len(playerNames)], idx/len(playerNames)+1),
		Avatar:   avatars[idx%len(avatars)],
	}
}

// syntheticMatch plays out a best-of-totalRounds match between two random players
func syntheticMatch(totalPlayers, totalRounds int, now time.Time) domain.MatchResult {
	a := rand.Intn(totalPlayers)
	b := (a + 1 + rand.Intn(totalPlayers-1)) % totalPlayers
	players := []domain.MatchPlayer{player(a), player(b)}

	winsNeeded := (totalRounds + 1) / 2
	var roundWinners []string
	for players[0].Wins < winsNeeded && players[1].Wins < winsNeeded {
		w := rand.Intn(2)
		players[w].Wins++
		roundWinners = append(roundWinners, players[w].UserID)
	}
	winner := players[0]
	if players[1].Wins > players[0].Wins {
		winner = players[1]
	}

	return domain.MatchResult{
		ID:           uuid.NewString(),
		RoomCode:     fmt.Sprintf("%06d", rand.Intn(1000000)),
		WinnerID:     winner.UserID,
		Players:      players,
		RoundWinners: roundWinners,
		RoundsPlayed: len(roundWinners),
		TotalRounds:  totalRounds,
		StartedAt:    now.Add(-time.Duration(len(roundWinners)*8) * time.Second),
		FinishedAt:   now,
	}
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "match-results", "Kafka topic")
	totalPlayers := flag.Int("players", 200, "Number of distinct synthetic players")
	totalRounds := flag.Int("rounds", 3, "Rounds per match")
	matchesPerSecond := flag.Int("rate", 20, "Matches per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	if *totalPlayers < 2 || *matchesPerSecond < 1 || *totalRounds < 1 {
		log.Fatal("players must be at least 2, rate and rounds at least 1")
	}

	fmt.Println("Match result producer")
	fmt.Printf("  Brokers:      %s\n", *brokers)
	fmt.Printf("  Topic:        %s\n", *topic)
	fmt.Printf("  Players:      %d\n", *totalPlayers)
	fmt.Printf("  Matches/sec:  %d\n", *matchesPerSecond)
	fmt.Println()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	producer, err := kafka.NewProducer(&config.KafkaConfig{
		Brokers:       strings.Split(*brokers, ","),
		Topic:         *topic,
		RetryAttempts: 3,
		RetryDelay:    100 * time.Millisecond,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	ticker := time.NewTicker(time.Second / time.Duration(*matchesPerSecond))
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var published int64
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down...")
			if err := producer.Close(); err != nil {
				log.Printf("Failed to close producer: %v", err)
			}
			sent, failed := producer.Stats()
			fmt.Printf("Completed. Published: %d, Sent: %d, Errors: %d\n", published, sent, failed)
			return

		case now := <-ticker.C:
			if err := producer.Publish(ctx, syntheticMatch(*totalPlayers, *totalRounds, now)); err != nil {
				continue
			}
			published++

		case <-statsTicker.C:
			sent, failed := producer.Stats()
			fmt.Printf("[%s] Published: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"), published, sent, failed)
		}
	}
}
