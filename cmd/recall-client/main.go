// Command recall-client is an interactive shell for poking at the
// memory subsystem: store, search and manage memories for an agent
// without standing up the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"

	"github.com/agenttown/recall/pkg/config"
	"github.com/agenttown/recall/pkg/log"
	"github.com/agenttown/recall/pkg/memory"
	"github.com/agenttown/recall/pkg/recall"
)

const (
	cmdHelp     = "!help"
	cmdQuit     = "!quit"
	cmdAgent    = "!agent"
	cmdRemember = "!remember"
	cmdSearch   = "!search"
	cmdList     = "!list"
	cmdForget   = "!forget"
	cmdClear    = "!clear"
	cmdAgents   = "!agents"
	cmdPrompt   = "!prompt"
	cmdBackend  = "!backend"
	cmdReprobe  = "!reprobe"
)

const helpText = `
Recall Client - Command Reference:
-----------------------------------------
!help                 - Show this help message
!agent <id>           - Switch the current agent
!remember <text>      - Store a memory for the current agent
!search <query>       - Search the current agent's memories
!prompt <query>       - Search and render results as a prompt block
!list                 - List all memories of the current agent
!forget <memory_id>   - Delete a single memory
!clear                - Delete all memories of the current agent
!agents               - List agents that hold memories
!backend              - Show the active index backend
!reprobe              - Re-run backend selection
!quit                 - Exit the client

Notes:
- Plain text input is treated as a search
- Tab completion and arrow-key history are available`

const historyFile = ".recall_history"

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	log.Setup(log.Config{
		Level:  log.WarnLevel,
		Format: log.TextFormat,
	})

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "recall-client: %v\n", err)
		os.Exit(1)
	}

	client, err := recall.NewFromConfig(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "recall-client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	runCLI(client)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(path)
}

func runCLI(client *recall.Client) {
	currentAgent := "default-agent"

	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) (c []string) {
		commands := []string{
			cmdHelp, cmdQuit, cmdAgent, cmdRemember, cmdSearch,
			cmdList, cmdForget, cmdClear, cmdAgents, cmdPrompt,
			cmdBackend, cmdReprobe,
		}
		for _, cmd := range commands {
			if strings.HasPrefix(cmd, prefix) {
				c = append(c, cmd)
			}
		}
		return
	})

	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Println("\n=== Recall Client ===")
	fmt.Println("Backend:", client.Mode())
	fmt.Printf("Current agent: %s\n", currentAgent)
	fmt.Println("Type !help for available commands.")

	for {
		input, err := line.Prompt(fmt.Sprintf("recall::%s> ", currentAgent))
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if input == cmdQuit {
			fmt.Println("Goodbye!")
			return
		}

		processCommand(input, client, &currentAgent)
	}
}

func processCommand(input string, client *recall.Client, currentAgent *string) {
	ctx := context.Background()

	if !strings.HasPrefix(input, "!") {
		// Plain text is a search
		search(ctx, client, *currentAgent, input, false)
		return
	}

	parts := strings.SplitN(input, " ", 2)
	cmd := parts[0]
	arg := ""
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}

	switch cmd {
	case cmdHelp:
		fmt.Println(helpText)

	case cmdAgent:
		if arg == "" {
			fmt.Printf("Current agent: %s\n", *currentAgent)
			return
		}
		*currentAgent = arg
		fmt.Printf("Switched to agent: %s\n", arg)

	case cmdRemember:
		if arg == "" {
			fmt.Println("Usage: !remember <text>")
			return
		}
		record, err := client.Store(ctx, *currentAgent, arg, nil)
		if err != nil {
			fmt.Printf("Error storing memory: %v\n", err)
			return
		}
		fmt.Printf("Stored memory %s\n", record.ID)

	case cmdSearch:
		if arg == "" {
			fmt.Println("Usage: !search <query>")
			return
		}
		search(ctx, client, *currentAgent, arg, false)

	case cmdPrompt:
		if arg == "" {
			fmt.Println("Usage: !prompt <query>")
			return
		}
		search(ctx, client, *currentAgent, arg, true)

	case cmdList:
		records, err := client.List(ctx, *currentAgent)
		if err != nil {
			fmt.Printf("Error listing memories: %v\n", err)
			return
		}
		if len(records) == 0 {
			fmt.Println("No memories stored.")
			return
		}
		for _, record := range records {
			fmt.Printf("%s  %s\n", record.ID, record.Text)
		}

	case cmdForget:
		if arg == "" {
			fmt.Println("Usage: !forget <memory_id>")
			return
		}
		if err := client.Delete(ctx, *currentAgent, arg); err != nil {
			fmt.Printf("Error deleting memory: %v\n", err)
			return
		}
		fmt.Println("Memory deleted.")

	case cmdClear:
		removed, err := client.Clear(ctx, *currentAgent)
		if err != nil {
			fmt.Printf("Error clearing memories: %v\n", err)
			return
		}
		fmt.Printf("Removed %d memories.\n", removed)

	case cmdAgents:
		agents, err := client.ListAgents(ctx)
		if err != nil {
			fmt.Printf("Error listing agents: %v\n", err)
			return
		}
		if len(agents) == 0 {
			fmt.Println("No agents hold memories.")
			return
		}
		for _, agent := range agents {
			fmt.Println(agent)
		}

	case cmdBackend:
		fmt.Printf("Backend: %s (degraded: %v)\n", client.Mode(), client.Degraded())

	case cmdReprobe:
		mode, err := client.Reprobe(ctx)
		if err != nil {
			fmt.Printf("Reprobe failed, staying on %s: %v\n", mode, err)
			return
		}
		fmt.Printf("Backend: %s\n", mode)

	default:
		fmt.Printf("Unknown command: %s (try !help)\n", cmd)
	}
}

func search(ctx context.Context, client *recall.Client, agentID, query string, asPrompt bool) {
	records, err := client.Query(ctx, agentID, query, memory.QueryOptions{MinScore: 0.0})
	if err != nil {
		fmt.Printf("Error searching memories: %v\n", err)
		return
	}

	if asPrompt {
		fmt.Println(memory.FormatForPrompt(records))
		return
	}

	if len(records) == 0 {
		fmt.Println("No matching memories.")
		return
	}
	for _, record := range records {
		fmt.Printf("%.3f  %s  %s\n", record.Score, record.ID, record.Text)
	}
}
