package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/opsforge-io/harrier/internal/db"
	"github.com/opsforge-io/harrier/internal/jobs"
)

// cleanup force-fails every non-terminal job. It is the blunt instrument for
// resetting a wedged environment; running supervisors notice ownership loss
// at their next heartbeat.
func main() {
	godotenv.Load(".env.local", ".env")

	yes := flag.Bool("yes", false, "Skip the confirmation prompt")
	purge := flag.Duration("purge-older-than", 0, "Also delete terminal jobs older than this duration (0 disables)")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if !*yes && !confirm("Force-fail ALL non-terminal jobs?") {
		fmt.Println("Aborted")
		return
	}

	ctx := context.Background()

	pgDB, err := db.InitFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: failed to connect to database:", err)
		os.Exit(1)
	}
	defer pgDB.Close()

	store := db.NewJobStore(pgDB.GetDB())

	failed, err := store.ForceFailActiveJobs(ctx, jobs.MsgForceCancelled)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: failed to force-fail active jobs:", err)
		os.Exit(1)
	}
	fmt.Printf("Force-failed %d active jobs\n", failed)

	if *purge > 0 {
		deleted, err := store.DeleteTerminalJobsBefore(ctx, time.Now().Add(-*purge))
		if err != nil {
			fmt.Fprintln(os.Stderr, "error: failed to purge terminal jobs:", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted %d terminal jobs older than %s\n", deleted, *purge)
	}
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
