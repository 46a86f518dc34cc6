package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	blockrepo "fedipull/features/blocks/repository"
	"fedipull/features/filtercache"
	"fedipull/features/match"
	"fedipull/features/posts"
	rulerepo "fedipull/features/rules/repository"
	"fedipull/internal/config"
	"fedipull/internal/db"

	"github.com/urfave/cli/v2"
)

// CheckCommand evaluates a candidate post against the currently stored
// rules, for operators debugging list definitions.
var CheckCommand = &cli.Command{
	Name:  "check",
	Usage: "Evaluate a candidate post against the stored list definitions",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "text",
			Aliases:  []string{"t"},
			Usage:    "Post body (HTML allowed, stripped before matching).",
			Required: true,
		},
		&cli.StringFlag{
			Name:    "spoiler",
			Aliases: []string{"s"},
			Usage:   "Content-warning text.",
		},
		&cli.StringFlag{
			Name:    "uri",
			Aliases: []string{"u"},
			Usage:   "Post URI, used for the domain-block check.",
			Value:   "https://example.com/@test/1",
		},
		&cli.BoolFlag{
			Name:  "media",
			Usage: "Treat the post as having media attachments.",
		},
		&cli.BoolFlag{
			Name:  "reblog",
			Usage: "Treat the post as a reblog.",
		},
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Output the result in JSON format.",
		},
	},
	Action: checkPost,
}

type checkResult struct {
	URI     string `json:"uri"`
	Fetch   bool   `json:"fetch"`
	ListID  int64  `json:"list_id,omitempty"`
	Blocked bool   `json:"domain_blocked"`
}

func checkPost(c *cli.Context) error {
	cfg := config.GetConfig()

	storeDB, err := db.Connect(cfg.Store.DSN, cfg.Store.MaxOpenConns)
	if err != nil {
		return fmt.Errorf("failed to connect to store: %w", err)
	}
	defer storeDB.Close()

	cache := filtercache.New(
		rulerepo.NewPostgresRuleRepository(storeDB),
		blockrepo.NewPostgresBlockRepository(storeDB),
		cfg.Cache.CompileWorkers,
	)
	defer cache.Close()

	ctx := context.Background()
	if err := cache.RefreshBlocks(ctx); err != nil {
		return err
	}
	if err := cache.RefreshLists(ctx); err != nil {
		return err
	}

	post := &posts.Post{
		URI:         c.String("uri"),
		SpoilerText: c.String("spoiler"),
		Content:     c.String("text"),
	}
	if c.Bool("media") {
		post.MediaAttachments = []json.RawMessage{json.RawMessage(`{}`)}
	}
	if c.Bool("reblog") {
		post.Reblog = json.RawMessage(`{}`)
	}

	snapshot := cache.Snapshot()
	listID, fetch := match.ShouldFetch(post, snapshot)

	result := checkResult{
		URI:     post.URI,
		Fetch:   fetch,
		ListID:  listID,
		Blocked: snapshot.Blocks.BlocksURI(post.URI),
	}

	if c.Bool("json") {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if result.Blocked {
		fmt.Println("domain blocked: post would be rejected")
		return nil
	}
	if fetch {
		fmt.Printf("match: list %d would fetch this post\n", listID)
	} else {
		fmt.Println("no match: post would be skipped")
	}

	return nil
}
