package main

import (
	"errors"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/hark/db"
)

var transcriptsCmd = &cobra.Command{
	Use:   "transcripts",
	Short: "List recently stored sentences",
	RunE:  runTranscripts,
}

func init() {
	flags := transcriptsCmd.Flags()
	flags.Int("limit", 50, "number of sentences to show")
	flags.String("database-url", "", "Postgres connection string")
	viper.BindPFlag("transcripts.database_url", flags.Lookup("database-url"))
}

func runTranscripts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Transcripts.DatabaseURL == "" {
		return errors.New("transcripts.database_url is not set")
	}

	logs, closer, err := createLoggers(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	store, err := db.Open(cmd.Context(), cfg.Transcripts.DatabaseURL, logs.data)
	if err != nil {
		return err
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	sentences, err := store.RecentSentences(cmd.Context(), limit)
	if err != nil {
		return err
	}

	logs.main.Info("fetched sentences", "count", len(sentences))
	renderSentences(os.Stdout, sentences)
	return nil
}

func renderSentences(w io.Writer, sentences []db.Sentence) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Created At", "Session", "Text"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, s := range sentences {
		table.Append([]string{
			strconv.FormatInt(s.ID, 10),
			s.CreatedAt.Format("2006-01-02 15:04:05"),
			s.SessionID.String()[:8],
			s.Text,
		})
	}
	table.Render()
}
