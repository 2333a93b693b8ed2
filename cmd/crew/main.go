package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"ContentCrew/internal/app"
	"ContentCrew/internal/config"
	"ContentCrew/internal/crew"
	"ContentCrew/pkg/logger"
	"ContentCrew/sdk/go/crewclient"
)

const topicKey = "tema"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		log.Fatalf("crew: %v", err)
	}
}

func newApp(out io.Writer) *cli.App {
	topicFlag := &cli.StringFlag{
		Name:    "topic",
		Aliases: []string{"t"},
		Value:   crew.DefaultTopic,
		Usage:   "valor do placeholder {tema}",
	}
	inputFlag := &cli.StringSliceFlag{
		Name:    "input",
		Aliases: []string{"i"},
		Usage:   "entrada extra no formato chave=valor (repetível)",
	}
	serverFlag := &cli.StringFlag{
		Name:    "server",
		Value:   "http://localhost:8080",
		EnvVars: []string{"CONTENTCREW_SERVER"},
		Usage:   "endereço do crewd",
	}

	return &cli.App{
		Name:      "crew",
		Usage:     "executa equipes de agentes que produzem conteúdo para o LinkedIn",
		Writer:    out,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{config.EnvConfigPath},
				Usage:   "arquivo de configuração YAML",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "kickoff",
				Usage: "executa a equipe localmente e imprime o resultado final",
				Flags: []cli.Flag{
					topicFlag,
					inputFlag,
					&cli.StringFlag{Name: "crew-file", Usage: "definição YAML da equipe (padrão: equipe embutida)"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "grava o resultado final neste arquivo"},
				},
				Action: kickoffAction,
			},
			{
				Name:  "validate",
				Usage: "valida uma definição de equipe e lista os placeholders",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "crew-file", Usage: "definição YAML da equipe (padrão: equipe embutida)"},
				},
				Action: validateAction,
			},
			{
				Name:  "submit",
				Usage: "envia um kickoff assíncrono ao crewd",
				Flags: []cli.Flag{
					serverFlag,
					topicFlag,
					inputFlag,
					&cli.StringFlag{Name: "crew", Usage: "nome da equipe registrada no crewd"},
					&cli.StringFlag{Name: "id", Usage: "identificador idempotente do kickoff"},
					&cli.BoolFlag{Name: "wait", Usage: "aguarda a conclusão e imprime o resultado"},
					&cli.DurationFlag{Name: "interval", Value: crewclient.DefaultPollInterval, Usage: "intervalo de consulta com --wait"},
				},
				Action: submitAction,
			},
			{
				Name:      "status",
				Usage:     "consulta um kickoff no crewd",
				ArgsUsage: "<id>",
				Flags:     []cli.Flag{serverFlag},
				Action:    statusAction,
			},
		},
	}
}

func kickoffAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	def, err := loadCrew(c.String("crew-file"))
	if err != nil {
		return err
	}
	inputs, err := parseInputs(c.String("topic"), c.StringSlice("input"))
	if err != nil {
		return err
	}

	engine, err := app.NewEngine(c.Context, cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	output, err := engine.Runner.Kickoff(c.Context, def, inputs)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, output.Raw)
	fmt.Fprintf(c.App.ErrWriter, "tokens: prompt=%d completion=%d total=%d\n",
		output.TokenUsage.PromptTokens, output.TokenUsage.CompletionTokens, output.TokenUsage.TotalTokens)

	if path := c.String("out"); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(output.Raw), 0o644); err != nil {
			return fmt.Errorf("gravar resultado: %w", err)
		}
	}
	return nil
}

func validateAction(c *cli.Context) error {
	def, err := loadCrew(c.String("crew-file"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "equipe %q válida: %d agentes, %d tarefas\n", def.Name, len(def.Agents), len(def.Tasks))
	if keys := def.Placeholders(); len(keys) > 0 {
		fmt.Fprintf(c.App.Writer, "placeholders: %s\n", strings.Join(keys, ", "))
	}
	return nil
}

func submitAction(c *cli.Context) error {
	client, err := crewclient.NewClient(c.String("server"), nil)
	if err != nil {
		return err
	}
	inputs, err := parseInputs(c.String("topic"), c.StringSlice("input"))
	if err != nil {
		return err
	}
	kickoff, err := client.Submit(c.Context, crewclient.Submission{
		ID:     c.String("id"),
		Crew:   c.String("crew"),
		Inputs: inputs,
	})
	if err != nil {
		return err
	}
	if !c.Bool("wait") {
		return printJSON(c.App.Writer, kickoff)
	}
	fmt.Fprintf(c.App.ErrWriter, "kickoff %s enviado, aguardando...\n", kickoff.ID)
	kickoff, err = client.Wait(c.Context, kickoff.ID, c.Duration("interval"))
	if err != nil {
		return err
	}
	return printResult(c.App.Writer, kickoff)
}

func statusAction(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return cli.Exit("informe o id do kickoff", 2)
	}
	client, err := crewclient.NewClient(c.String("server"), nil)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()
	kickoff, err := client.Get(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, kickoff)
}

func loadCrew(path string) (*crew.Crew, error) {
	if path == "" {
		return crew.DefaultDefinition(), nil
	}
	return crew.LoadFile(path)
}

// parseInputs 合并 --topic 与 --input，后者可以覆盖 tema。
func parseInputs(topic string, pairs []string) (map[string]string, error) {
	inputs := map[string]string{}
	if strings.TrimSpace(topic) != "" {
		inputs[topicKey] = topic
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("entrada inválida %q, use chave=valor", pair)
		}
		inputs[key] = value
	}
	return inputs, nil
}

func printResult(w io.Writer, k crewclient.Kickoff) error {
	if k.Succeeded() && k.Result != nil {
		_, err := fmt.Fprintln(w, k.Result.Raw)
		return err
	}
	return fmt.Errorf("kickoff %s terminou com status %s: %s (%s)", k.ID, k.Status, k.LastError, k.ErrorCode)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
