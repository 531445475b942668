// Command graphdb runs the second-order graph query engine as a standalone
// server, a one-shot query tool, or a quickstart demo.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	graphdb "github.com/mstrYoda/msographdb"
	"github.com/mstrYoda/msographdb/expr"
	"github.com/mstrYoda/msographdb/mso"
	"github.com/mstrYoda/msographdb/server"
)

var (
	dbPath string
	addr   string
	uiDir  string
)

func main() {
	root := &cobra.Command{
		Use:   "graphdb",
		Short: "second-order graph query engine",
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "./graphdb-data", "database directory")

	root.AddCommand(serveCmd(), decideCmd(), collectCmd(), quickstartCmd())

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func openDB() (*graphdb.DB, error) {
	return graphdb.Open(dbPath, graphdb.DefaultOptions())
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP/JSON API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			srv := server.New(db, uiDir)
			slog.Info("graphdb server listening", "addr", addr, "db", dbPath)
			return http.ListenAndServe(addr, srv)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&uiDir, "ui-dir", "", "path to a built UI to serve (optional)")
	return cmd
}

// planSpec is the JSON shape read from stdin or --plan by decide/collect,
// mirroring the query plan shape the HTTP API accepts at /api/mso/*.
type planSpec struct {
	Quantifiers []struct {
		Kind   string `json:"kind"`
		Domain string `json:"domain"`
		Var    string `json:"var"`
	} `json:"quantifiers"`
	Family *struct {
		Mode string `json:"mode"`
		Seed uint64 `json:"seed,omitempty"`
	} `json:"family,omitempty"`
	Filter      string `json:"filter"`
	Aggregation string `json:"aggregation,omitempty"`
}

func loadPlanSpec(path string) (*planSpec, error) {
	var data []byte
	var err error
	if path == "-" || path == "" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	var spec planSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("invalid plan JSON: %w", err)
	}
	return &spec, nil
}

func buildPlanFromSpec(spec *planSpec) (*mso.QueryPlan, error) {
	b := mso.NewBuilder()
	for _, q := range spec.Quantifiers {
		switch strings.ToLower(q.Domain) {
		case "vertex":
			if strings.ToLower(q.Kind) == "exists" {
				b = b.Exist(q.Var)
			} else {
				b = b.ForAll(q.Var)
			}
		case "subset":
			if strings.ToLower(q.Kind) == "exists" {
				b = b.ExistSet(q.Var)
			} else {
				b = b.ForAllSet(q.Var)
			}
		default:
			return nil, fmt.Errorf("unknown quantifier domain %q", q.Domain)
		}
	}
	if spec.Family != nil {
		switch strings.ToLower(spec.Family.Mode) {
		case "weak":
			b = b.Family(mso.FamilyWCC)
		case "strong":
			b = b.Family(mso.FamilySCC)
		case "community":
			b = b.Family(mso.FamilyCommunity)
		case "bfs":
			b = b.Family(mso.FamilyBFS, expr.VertexID(spec.Family.Seed))
		default:
			b = b.Family(mso.FamilyPowerSet)
		}
	}
	b = b.Filter(spec.Filter)
	if spec.Aggregation != "" {
		b = b.Aggregate(spec.Aggregation)
	}
	return b.Build()
}

func decideCmd() *cobra.Command {
	var planPath string
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "run a decision (true/false) second-order query",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := loadPlanSpec(planPath)
			if err != nil {
				return err
			}
			plan, err := buildPlanFromSpec(spec)
			if err != nil {
				return err
			}
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			result, err := db.Decide(ctx, plan)
			if err != nil {
				return err
			}
			fmt.Println(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "-", "path to a JSON query plan (default: stdin)")
	return cmd
}

func collectCmd() *cobra.Command {
	var planPath string
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "run a collection second-order query and print matching subsets",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := loadPlanSpec(planPath)
			if err != nil {
				return err
			}
			plan, err := buildPlanFromSpec(spec)
			if err != nil {
				return err
			}
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			result, err := db.Collect(ctx, plan)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "-", "path to a JSON query plan (default: stdin)")
	return cmd
}

func quickstartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quickstart",
		Short: "build a small demo graph and run a sample query",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "./quickstart.db"
			os.RemoveAll(dir)
			db, err := graphdb.Open(dir, graphdb.DefaultOptions())
			if err != nil {
				return err
			}
			defer func() {
				db.Close()
				os.RemoveAll(dir)
			}()

			alice, _ := db.AddNode("Person", graphdb.Props{"name": "Alice", "age": 30})
			bob, _ := db.AddNode("Person", graphdb.Props{"name": "Bob", "age": 25})
			charlie, _ := db.AddNode("Person", graphdb.Props{"name": "Charlie", "age": 35})

			db.AddEdge(alice, bob, "follows", nil)
			db.AddEdge(alice, charlie, "follows", nil)
			db.AddEdge(bob, charlie, "follows", nil)

			fmt.Printf("Nodes: %d, Edges: %d\n\n", db.NodeCount(), db.EdgeCount())

			neighbors, _ := db.NeighborsLabeled(alice, "follows")
			fmt.Print("Alice follows: ")
			for i, n := range neighbors {
				if i > 0 {
					fmt.Print(", ")
				}
				fmt.Print(n.GetString("name"))
			}
			fmt.Println()

			fmt.Println("\nBFS from Alice (depth 2):")
			results, _ := db.BFSCollect(alice, 2, graphdb.Outgoing)
			for _, r := range results {
				fmt.Printf("  depth=%d  %s\n", r.Depth, r.Node.GetString("name"))
			}

			// A second-order query: is there someone every other person
			// directly follows? ("Does a universal followee exist?")
			fmt.Println(`Decide: ∃x ∀y (x = y OR y follows x)`)
			plan, err := mso.NewBuilder().
				Exist("x").
				ForAll("y").
				Filter(`V(x).is(y) || V(y).out("follows").is(x)`).
				Build()
			if err == nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				result, decErr := db.Decide(ctx, plan)
				if decErr != nil {
					fmt.Printf("  decide failed: %v\n", decErr)
				} else {
					fmt.Printf("  result: %v\n", result)
				}
			}

			stats, _ := db.Stats()
			fmt.Printf("\nStats: %d nodes, %d edges, %d shard(s), %.2f KB\n",
				stats.NodeCount, stats.EdgeCount, stats.ShardCount,
				float64(stats.DiskSizeBytes)/1024)
			return nil
		},
	}
}
