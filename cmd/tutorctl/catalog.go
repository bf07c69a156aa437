package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ashureev/tutorhub/internal/domain"
	"github.com/ashureev/tutorhub/internal/prompt"
	"github.com/ashureev/tutorhub/internal/store"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var updateExisting bool

var importAgentsCmd = &cobra.Command{
	Use:   "import-agents <file.yaml>",
	Short: "Create or update agents from a YAML definition file",
	Long: `Create or update agents from a YAML file of the form:

  agents:
    - id: shell-tutor
      name: Shell Tutor
      provider: openai
      config: {model: gpt-4o-mini, temperature: 0.3}
      system_prompt: "You teach {{topic.title}} to {{user.full_name}}."
      welcome_message: "Hi {{user.full_name}}!"

Templates are checked before anything is written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agents, err := readAgents(args[0])
		if err != nil {
			return err
		}
		return withStore(func(repo store.Repository) error {
			return importAgents(cmd.Context(), repo, cmd.OutOrStdout(), agents)
		})
	},
}

var importTopicsCmd = &cobra.Command{
	Use:   "import-topics <file.json>",
	Short: "Import topics from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read topics file: %w", err)
		}
		var topics []*domain.Topic
		if err := json.Unmarshal(raw, &topics); err != nil {
			return fmt.Errorf("parse topics file: %w", err)
		}
		return withStore(func(repo store.Repository) error {
			return importTopics(cmd.Context(), repo, cmd.OutOrStdout(), topics, updateExisting)
		})
	},
}

var exportTopicsCmd = &cobra.Command{
	Use:   "export-topics <file.json>",
	Short: "Export all topics to a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Create(args[0])
		if err != nil {
			return fmt.Errorf("create export file: %w", err)
		}
		defer f.Close()

		return withStore(func(repo store.Repository) error {
			n, err := exportTopics(cmd.Context(), repo, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d topics to %s\n", n, args[0])
			return nil
		})
	},
}

func init() {
	importTopicsCmd.Flags().BoolVar(&updateExisting, "update", false, "update topics that already exist")
}

type agentFile struct {
	Agents []*domain.Agent `yaml:"agents"`
}

func readAgents(path string) ([]*domain.Agent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}
	var file agentFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse agents file: %w", err)
	}
	return file.Agents, nil
}

func importAgents(ctx context.Context, repo store.Repository, out io.Writer, agents []*domain.Agent) error {
	for _, a := range agents {
		if a.ID == "" || a.Name == "" {
			return fmt.Errorf("agent definitions need an id and a name")
		}
		for field, tmpl := range map[string]string{
			"system_prompt":    a.SystemPrompt,
			"welcome_message":  a.WelcomeMessage,
			"reminder_message": a.ReminderMessage,
		} {
			if err := prompt.Validate(tmpl); err != nil {
				return fmt.Errorf("agent %s %s: %w", a.ID, field, err)
			}
		}
	}

	now := time.Now().UTC()
	for _, a := range agents {
		existing, err := repo.GetAgent(ctx, a.ID)
		if err != nil {
			return err
		}
		a.CreatedAt = now
		if existing != nil {
			a.CreatedAt = existing.CreatedAt
		}
		a.UpdatedAt = now
		if err := repo.UpsertAgent(ctx, a); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "Imported %d agents\n", len(agents))
	return nil
}

// importTopics writes parents before their children. Existing topics are
// skipped unless update is set.
func importTopics(ctx context.Context, repo store.Repository, out io.Writer, topics []*domain.Topic, update bool) error {
	ordered, err := parentsFirst(ctx, repo, topics)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var created, updated, skipped int
	for _, t := range ordered {
		existing, err := repo.GetTopic(ctx, t.ID)
		if err != nil {
			return err
		}
		switch {
		case existing != nil && !update:
			skipped++
			continue
		case existing != nil:
			t.CreatedAt = existing.CreatedAt
			updated++
		default:
			if t.CreatedAt.IsZero() {
				t.CreatedAt = now
			}
			created++
		}
		t.UpdatedAt = now
		if t.DifficultyLevel == 0 {
			t.DifficultyLevel = 1
		}
		if err := repo.UpsertTopic(ctx, t); err != nil {
			return fmt.Errorf("import topic %s: %w", t.ID, err)
		}
	}

	fmt.Fprintf(out, "Created %d topics\n", created)
	fmt.Fprintf(out, "Updated %d topics\n", updated)
	fmt.Fprintf(out, "Skipped %d existing topics\n", skipped)
	return nil
}

// parentsFirst orders topics so every parent precedes its children. Parents
// may also already exist in the database.
func parentsFirst(ctx context.Context, repo store.Repository, topics []*domain.Topic) ([]*domain.Topic, error) {
	placed := make(map[string]bool, len(topics))
	pending := make([]*domain.Topic, 0, len(topics))
	for _, t := range topics {
		if t.ID == "" || t.Title == "" {
			return nil, fmt.Errorf("topic definitions need an id and a title")
		}
		pending = append(pending, t)
	}

	ordered := make([]*domain.Topic, 0, len(topics))
	for len(pending) > 0 {
		var next []*domain.Topic
		for _, t := range pending {
			if t.ParentID == "" || placed[t.ParentID] {
				ordered = append(ordered, t)
				placed[t.ID] = true
				continue
			}
			next = append(next, t)
		}
		if len(next) == len(pending) {
			// No progress: the remaining parents must already be stored.
			t := next[0]
			parent, err := repo.GetTopic(ctx, t.ParentID)
			if err != nil {
				return nil, err
			}
			if parent == nil {
				return nil, fmt.Errorf("topic %s: parent %s not found", t.ID, t.ParentID)
			}
			placed[t.ParentID] = true
		}
		pending = next
	}
	return ordered, nil
}

func exportTopics(ctx context.Context, repo store.Repository, w io.Writer) (int, error) {
	topics, err := repo.ListTopics(ctx)
	if err != nil {
		return 0, err
	}
	if topics == nil {
		topics = []*domain.Topic{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(topics); err != nil {
		return 0, fmt.Errorf("write topics: %w", err)
	}
	return len(topics), nil
}
