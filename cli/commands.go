package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/compozy/codebook/engine/codebook"
	"github.com/compozy/codebook/engine/codebook/ingest"
	"github.com/compozy/codebook/engine/codebook/query"
)

// defaultAnswer is the answer shape used when no --schema is given.
type defaultAnswer struct {
	Answer   string   `json:"answer"`
	Sections []string `json:"sections,omitempty" jsonschema:"description=Section numbers that support the answer"`
}

func documentID(args []string) (string, error) {
	if len(args) < 2 {
		return "", codebook.ErrInvalidDocument
	}
	return codebook.DocumentID(args[0], args[1])
}

func StatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <municipality> <state>",
		Short: "Show the indexing status of a codebook",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := documentID(args)
			if err != nil {
				return err
			}
			return runWithApp(cmd, func(ctx context.Context, a *app) error {
				st, err := a.probe.Status(ctx, id)
				if err != nil {
					return err
				}
				out := map[string]any{"document_id": id, "status": st}
				return render(cmd, out, func(w io.Writer) {
					field(w, "Collection", id)
					field(w, "Status", statusText(st))
				})
			})
		},
	}
}

func statusText(st codebook.Status) string {
	if st == codebook.StatusIndexed {
		return okStyle.Render(st.String())
	}
	return warnStyle.Render(st.String())
}

func CreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <municipality> <state>",
		Short: "Create an empty collection for a codebook",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := documentID(args)
			if err != nil {
				return err
			}
			return runWithApp(cmd, func(ctx context.Context, a *app) error {
				ingestor, err := a.ingest(ctx)
				if err != nil {
					return err
				}
				created := ingestor.CreateEmptyCollection(ctx, id)
				return render(cmd, map[string]any{"document_id": id, "created": created}, func(w io.Writer) {
					field(w, "Collection", id)
					field(w, "Created", created)
				})
			})
		},
	}
}

func IngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <municipality> <state>",
		Short: "Chunk, embed and store the sections of a codebook",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := documentID(args)
			if err != nil {
				return err
			}
			path, err := cmd.Flags().GetString("sections")
			if err != nil {
				return err
			}
			force, err := cmd.Flags().GetBool("force")
			if err != nil {
				return err
			}
			sections, extract, err := loadSections(path)
			if err != nil {
				return err
			}
			return runWithApp(cmd, func(ctx context.Context, a *app) error {
				ingestor, err := a.ingest(ctx)
				if err != nil {
					return err
				}
				report, err := ingestor.Ingest(ctx, ingest.Request{
					DocumentID: id,
					Sections:   sections,
					Extract:    extract,
					Force:      force,
				})
				if errors.Is(err, ingest.ErrUnderChunked) {
					return fmt.Errorf("%w: run again with --force to rebuild it", err)
				}
				if err != nil {
					return err
				}
				return render(cmd, report, func(w io.Writer) {
					fmt.Fprintln(w, titleStyle.Render("Ingestion "+id))
					field(w, "Before", statusText(report.Before))
					field(w, "After", statusText(report.After))
					field(w, "Chunks", report.Chunks)
					field(w, "Skipped", report.Skipped)
				})
			})
		},
	}
	cmd.Flags().String("sections", "", "JSON file with the sections to ingest")
	cmd.Flags().Bool("force", false, "Purge an existing collection before ingesting")
	return cmd
}

func RepopulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repopulate <municipality> <state>",
		Short: "Drop a collection and ingest every section again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := documentID(args)
			if err != nil {
				return err
			}
			path, err := cmd.Flags().GetString("sections")
			if err != nil {
				return err
			}
			sections, extract, err := loadSections(path)
			if err != nil {
				return err
			}
			return runWithApp(cmd, func(ctx context.Context, a *app) error {
				m, err := a.maintainer(ctx)
				if err != nil {
					return err
				}
				summary, err := m.PurgeAndRepopulate(ctx, id, sections, extract)
				if err != nil {
					return err
				}
				return render(cmd, summary, func(w io.Writer) {
					fmt.Fprintln(w, titleStyle.Render("Repopulated "+id))
					field(w, "Sections", summary.Total)
					field(w, "Successful", summary.Successful)
					field(w, "Failed", summary.Failed)
					field(w, "Chunks", summary.Chunks)
				})
			})
		},
	}
	cmd.Flags().String("sections", "", "JSON file with the sections to ingest")
	return cmd
}

func QueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <municipality> <state> [question...]",
		Short: "Answer questions from an indexed codebook",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := documentID(args)
			if err != nil {
				return err
			}
			questions, err := collectQuestions(cmd, args[2:])
			if err != nil {
				return err
			}
			schema, err := loadSchema(cmd)
			if err != nil {
				return err
			}
			opts, err := queryOptions(cmd)
			if err != nil {
				return err
			}
			strategy, err := cmd.Flags().GetString("strategy")
			if err != nil {
				return err
			}
			return runWithApp(cmd, func(ctx context.Context, a *app) error {
				exec, err := a.executor(ctx, id, strategy)
				if err != nil {
					return err
				}
				results, err := exec.ExecuteQueriesInParallel(ctx, questions, schema, opts...)
				if err != nil {
					return err
				}
				var out any = results
				if len(results) == 1 {
					out = results[0]
				}
				return render(cmd, out, func(w io.Writer) {
					for _, res := range results {
						fmt.Fprintln(w, titleStyle.Render(res.Query))
						field(w, "Model", res.Model)
						field(w, "Sections", strings.Join(res.SectionList, ", "))
						field(w, "Answer", string(res.Answer))
						fmt.Fprintln(w)
					}
				})
			})
		},
	}
	cmd.Flags().String("model", "", "Model to answer with (openai, anthropic)")
	cmd.Flags().String("strategy", "", "Retrieval strategy (section_expansion, similarity)")
	cmd.Flags().Bool("permitted-uses", false, "Use the permitted uses prompt and retrieval depth")
	cmd.Flags().Int("top-k", 0, "Number of similarity hits to expand")
	cmd.Flags().String("schema", "", "JSON Schema file describing the answer")
	cmd.Flags().String("questions", "", "File with one question per line, answered in parallel")
	return cmd
}

func collectQuestions(cmd *cobra.Command, args []string) ([]string, error) {
	var questions []string
	if q := strings.TrimSpace(strings.Join(args, " ")); q != "" {
		questions = append(questions, q)
	}
	path, err := cmd.Flags().GetString("questions")
	if err != nil {
		return nil, err
	}
	if path != "" {
		f, err := os.Open(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("failed to open questions file: %w", err)
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				questions = append(questions, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read questions file: %w", err)
		}
	}
	if len(questions) == 0 {
		return nil, errors.New("a question is required")
	}
	return questions, nil
}

func loadSchema(cmd *cobra.Command) (*query.Schema, error) {
	path, err := cmd.Flags().GetString("schema")
	if err != nil {
		return nil, err
	}
	if path == "" {
		return query.SchemaFor[defaultAnswer]()
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse schema file %s: %w", path, err)
	}
	return query.NewSchema(raw)
}

func queryOptions(cmd *cobra.Command) ([]query.Option, error) {
	var opts []query.Option
	model, err := cmd.Flags().GetString("model")
	if err != nil {
		return nil, err
	}
	if model != "" {
		opts = append(opts, query.WithModel(model))
	}
	topK, err := cmd.Flags().GetInt("top-k")
	if err != nil {
		return nil, err
	}
	if topK > 0 {
		opts = append(opts, query.WithTopK(topK))
	}
	permitted, err := cmd.Flags().GetBool("permitted-uses")
	if err != nil {
		return nil, err
	}
	if permitted {
		opts = append(opts, query.WithPermittedUses())
	}
	return opts, nil
}

// maintenanceCmd builds purge and clear, which share their argument handling.
func maintenanceCmd(
	use string,
	short string,
	one func(ctx context.Context, m *ingest.Maintainer, id string) error,
	all func(ctx context.Context, m *ingest.Maintainer) ([]string, error),
) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " [municipality state]",
		Short: short,
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			everything, err := cmd.Flags().GetBool("all")
			if err != nil {
				return err
			}
			var id string
			if !everything {
				if id, err = documentID(args); err != nil {
					return fmt.Errorf("%w (or pass --all)", err)
				}
			} else if len(args) > 0 {
				return errors.New("--all does not take a document")
			}
			return runWithApp(cmd, func(ctx context.Context, a *app) error {
				m, err := a.maintainer(ctx)
				if err != nil {
					return err
				}
				var done []string
				if everything {
					done, err = all(ctx, m)
				} else if err = one(ctx, m, id); err == nil {
					done = []string{id}
				}
				if err != nil {
					return err
				}
				if done == nil {
					done = []string{}
				}
				return render(cmd, map[string]any{"collections": done}, func(w io.Writer) {
					for _, c := range done {
						fmt.Fprintln(w, okStyle.Render("✓ ")+use+" "+c)
					}
				})
			})
		},
	}
	cmd.Flags().Bool("all", false, "Apply to every collection")
	return cmd
}

func PurgeCmd() *cobra.Command {
	return maintenanceCmd("purge", "Delete codebook collections",
		func(ctx context.Context, m *ingest.Maintainer, id string) error { return m.Purge(ctx, id) },
		func(ctx context.Context, m *ingest.Maintainer) ([]string, error) { return m.PurgeAll(ctx) },
	)
}

func ClearCmd() *cobra.Command {
	return maintenanceCmd("clear", "Remove all points but keep the collections",
		func(ctx context.Context, m *ingest.Maintainer, id string) error { return m.Clear(ctx, id) },
		func(ctx context.Context, m *ingest.Maintainer) ([]string, error) { return m.ClearAll(ctx) },
	)
}

func ChunksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chunks <municipality> <state>",
		Short: "List stored chunks, optionally for one section",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := documentID(args)
			if err != nil {
				return err
			}
			chapter, err := cmd.Flags().GetString("chapter")
			if err != nil {
				return err
			}
			section, err := cmd.Flags().GetString("section")
			if err != nil {
				return err
			}
			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return err
			}
			if (chapter == "") != (section == "") {
				return errors.New("--chapter and --section must be given together")
			}
			return runWithApp(cmd, func(ctx context.Context, a *app) error {
				svc, err := a.retriever()
				if err != nil {
					return err
				}
				var chunks []codebook.ChunkRef
				if chapter != "" {
					chunks, err = svc.ChunksBySection(ctx, id, chapter, section, limit)
				} else {
					chunks, err = svc.ListAllChunks(ctx, id)
				}
				if err != nil {
					return err
				}
				if chunks == nil {
					chunks = []codebook.ChunkRef{}
				}
				return render(cmd, chunks, func(w io.Writer) {
					for _, c := range chunks {
						fmt.Fprintln(w, titleStyle.Render(c.ChapterNumber+"."+c.SectionNumber+" "+c.SectionName))
						fmt.Fprintln(w, c.Text)
						fmt.Fprintln(w)
					}
					field(w, "Total", len(chunks))
				})
			})
		},
	}
	cmd.Flags().String("chapter", "", "Chapter number")
	cmd.Flags().String("section", "", "Section number")
	cmd.Flags().Int("limit", 0, "Maximum chunks for one section")
	return cmd
}
