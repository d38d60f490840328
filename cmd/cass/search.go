package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/cass-dev/cass/internal/casserr"
	"github.com/cass-dev/cass/internal/catalog"
	"github.com/cass-dev/cass/internal/lexical"
	"github.com/cass-dev/cass/internal/query"
	"github.com/cass-dev/cass/internal/robot"
	"github.com/cass-dev/cass/pkg/model"
)

var (
	searchAgent     string
	searchWorkspace string
	searchSource    string
	searchOrigin    string
	searchDays      int
	searchLimit     int
	searchOffset    int
	searchMode      string
	searchReranker  bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the indexed corpus",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchAgent, "agent", "", "filter to one agent family")
	searchCmd.Flags().StringVar(&searchWorkspace, "workspace", "", "filter to one workspace path")
	searchCmd.Flags().StringVar(&searchSource, "source", "", "filter to one configured source name")
	searchCmd.Flags().StringVar(&searchOrigin, "origin", "", "filter by origin kind: local|remote")
	searchCmd.Flags().IntVar(&searchDays, "days", 0, "only conversations started in the last N days")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum hits to return")
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "number of hits to skip")
	searchCmd.Flags().StringVar(&searchMode, "mode", "hybrid", "retrieval mode: hybrid|lexical|semantic")
	searchCmd.Flags().BoolVar(&searchReranker, "rerank", true, "rerank the post-fusion head with the simple reranker")
}

func runSearch(cmd *cobra.Command, args []string) error {
	start := time.Now()
	ctx := cmd.Context()
	q := args[0]

	mode := query.Mode(searchMode)
	switch mode {
	case query.ModeHybrid, query.ModeLexical, query.ModeSemantic:
	default:
		return reportErr(newUsageError("unknown search mode %q (want hybrid, lexical, or semantic)", searchMode))
	}

	a, err := buildApp(ctx, globalConfigPath)
	if err != nil {
		return reportErr(err)
	}
	defer a.Close()

	if err := reindexForSearch(ctx, a); err != nil {
		return reportErr(err)
	}

	lexIdx := a.controller.LexicalIndex()
	if lexIdx == nil {
		lexIdx = lexical.Build(nil)
	}
	vecIdx := a.controller.VectorIndex()

	plan, err := query.Parse(q)
	if err != nil {
		return reportErr(casserr.Wrap(casserr.KindQuery, err, "check query syntax"))
	}

	filters := query.Filters{
		Agent:      model.Agent(searchAgent),
		Workspace:  searchWorkspace,
		SourceID:   searchSource,
		OriginKind: model.OriginKind(searchOrigin),
		Days:       searchDays,
	}

	active := a.embedders.Active()
	ex := &query.Executor{
		Lexical:     lexIdx,
		Vector:      vecIdx,
		Embed:       active.Embed,
		Parallelism: a.cfg.ParallelSearch,
	}
	if searchReranker {
		if rr, ok := a.rerankers.Get("simple"); ok {
			ex.Reranker = rr
		}
	}

	contentOf := func(id lexical.DocID) string {
		doc, ok := lexIdx.Document(id)
		if !ok {
			return ""
		}
		return doc.Content
	}

	fused, err := ex.Run(ctx, plan, q, mode, filters, contentOf)
	if err != nil {
		return reportErr(casserr.Wrap(casserr.KindQuery, err, ""))
	}

	total := len(fused)
	page := fused
	if searchOffset > 0 {
		if searchOffset >= len(page) {
			page = nil
		} else {
			page = page[searchOffset:]
		}
	}
	if searchLimit > 0 && searchLimit < len(page) {
		page = page[:searchLimit]
	}

	hits := make([]robot.Hit, 0, len(page))
	convCache := make(map[int64]*model.Conversation)
	for _, f := range page {
		doc, ok := lexIdx.Document(f.Doc)
		if !ok {
			continue
		}
		conv, err := lookupConversation(ctx, a.catalog, convCache, f.Doc.ConversationID)
		if err != nil {
			return reportErr(err)
		}
		title, sourcePath := "", ""
		if conv != nil {
			title, sourcePath = conv.Title, conv.SourcePath
		}
		score := f.FusedScore
		if f.Reranked {
			score = f.RerankerScore
		}
		hits = append(hits, robot.Hit{
			Title:             title,
			Snippet:           snippetFor(doc.Content, q),
			Score:             score,
			SourcePath:        sourcePath,
			Agent:             string(doc.Agent),
			Workspace:         doc.Workspace,
			WorkspaceOriginal: doc.WorkspaceOriginal,
			LineNumber:        f.Doc.Seq + 1,
			MatchType:         matchTypeFor(mode, plan.Type, f.Reranked),
			ConversationID:    f.Doc.ConversationID,
			Seq:               f.Doc.Seq,
		})
	}

	format := resolveRobotFormat(a.cfg.RobotFormat)
	out := robot.SearchOutput{
		Query:        q,
		Limit:        searchLimit,
		Offset:       searchOffset,
		Count:        len(hits),
		TotalMatches: total,
		Hits:         hits,
		Meta: &robot.Meta{
			ElapsedMs:  time.Since(start).Milliseconds(),
			SearchMode: string(mode),
		},
	}

	if globalRobot {
		return robot.WriteSearch(os.Stdout, format, out)
	}
	printHitsHuman(out)
	return nil
}

// reindexForSearch ensures LexicalIndex() is populated for a fresh
// process: unlike the long-running daemon the teacher's controller was
// modeled after, each `cass search` invocation builds a new Controller,
// and the lexical index is never persisted to disk — it only exists as
// an in-memory snapshot rebuilt from the catalog on every write pass. So
// the first search in a process always triggers one incremental pass (a
// no-op catalog-wise when nothing changed) to rebuild that snapshot.
// VectorIndex() doesn't need this: controller.New already seeds it from
// the on-disk shard, and this pass only touches it further if there are
// newly-dirty messages to embed.
func reindexForSearch(ctx context.Context, a *app) error {
	_, err := a.controller.IncrementalIndex(ctx, a.cfg.ToModel())
	return err
}

func printHitsHuman(out robot.SearchOutput) {
	if len(out.Hits) == 0 {
		fmt.Println("no matches")
		return
	}
	for i, h := range out.Hits {
		fmt.Printf("%d. [%s] %s (%s)\n", out.Offset+i+1, h.Agent, h.Title, h.SourcePath)
		fmt.Printf("   %s\n", h.Snippet)
	}
	fmt.Printf("\n%d of %d total matches\n", out.Count, out.TotalMatches)
}

func snippetFor(content, q string) string {
	const radius = 80
	lower := strings.ToLower(content)
	needle := strings.ToLower(firstToken(q))
	idx := -1
	if needle != "" {
		idx = strings.Index(lower, needle)
	}
	runes := []rune(content)
	if idx < 0 {
		if len(runes) <= 2*radius {
			return content
		}
		return string(runes[:2*radius]) + "…"
	}
	// idx is a byte offset; approximate a rune-safe window around it.
	byteStart := idx - radius
	if byteStart < 0 {
		byteStart = 0
	}
	byteEnd := idx + len(needle) + radius
	if byteEnd > len(content) {
		byteEnd = len(content)
	}
	for byteStart > 0 && !utf8.RuneStart(content[byteStart]) {
		byteStart--
	}
	for byteEnd < len(content) && !utf8.RuneStart(content[byteEnd]) {
		byteEnd++
	}
	snippet := content[byteStart:byteEnd]
	if byteStart > 0 {
		snippet = "…" + snippet
	}
	if byteEnd < len(content) {
		snippet = snippet + "…"
	}
	return snippet
}

func firstToken(q string) string {
	toks := lexical.Tokenize(q)
	if len(toks) == 0 {
		return ""
	}
	return toks[0].Text
}

func matchTypeFor(mode query.Mode, t query.Type, reranked bool) string {
	if mode == query.ModeSemantic {
		return "semantic"
	}
	if mode == query.ModeHybrid {
		return "hybrid"
	}
	return string(t)
}

func lookupConversation(ctx context.Context, store *catalog.Store, cache map[int64]*model.Conversation, id int64) (*model.Conversation, error) {
	if conv, ok := cache[id]; ok {
		return conv, nil
	}
	conv, err := store.GetConversation(ctx, id)
	if err != nil {
		return nil, casserr.Wrap(casserr.KindCatalog, err, "looking up conversation for a search hit")
	}
	cache[id] = conv
	return conv, nil
}

func resolveRobotFormat(cfgDefault string) robot.Format {
	if globalRobotFmt != "" {
		f, err := robot.ParseFormat(globalRobotFmt)
		if err == nil {
			return f
		}
	}
	f, err := robot.ParseFormat(cfgDefault)
	if err != nil {
		return robot.FormatJSON
	}
	return f
}
