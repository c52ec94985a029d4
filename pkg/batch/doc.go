// Package batch is the resumable batch orchestrator.
//
// A run loads the ledger for an input, keeps the requested indices that are
// still Pending and starts one worker per index. Each worker holds the
// concurrency gate for its whole lifetime, takes a slot from the pacing gate
// (unless the completion cache answers), calls the transformation client and
// merges the result into the ledger immediately. Failed items are logged and
// stay Pending for the next run.
//
// Example usage:
//
//	client, _ := transform.New(transform.DefaultConfig())
//	engine, _ := batch.New(client, batch.Config{
//		Store:      ledger.NewFileStore("book.proofread.json"),
//		RunLogPath: "book.proofread.log",
//		RollupPath: "book.proofread.md",
//		Logger:     logging.NewLogger("batch"),
//	})
//	items, _ := batch.LoadItems("book.json")
//	result, err := engine.Run(ctx, items, batch.RunRequest{
//		Stop:              -1,
//		Model:             "deepseek-chat",
//		RequestsPerMinute: 15,
//		MaxConcurrency:    3,
//	})
//
// Interrupting a run and starting it again with the same ledger continues
// where it stopped; completed items are never sent again.
package batch
