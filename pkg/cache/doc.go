// Package cache provides a Redis-backed cache of completed transformations.
//
// Requests that agree on model id, resolved provider model, temperature,
// instruction and prompt share a key. A passage that was already proofread
// under another ledger, or whose ledger was lost, is answered without a
// provider call and without consuming a pacing slot.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient, 24*time.Hour)
//
//	apiModel, temperature := client.Resolved("deepseek-chat")
//	key := cache.Key{
//		Model:       "deepseek-chat",
//		APIModel:    apiModel,
//		Temperature: temperature,
//		Instruction: client.SystemPrompt(),
//		Prompt:      prompt.Combined(),
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// call the provider, then
//		_ = manager.Put(ctx, key, text)
//	}
//
// # Metrics
//
//   - proofread_cache_hits_total - Completions served from cache
//   - proofread_cache_misses_total - Cache misses
//   - proofread_cache_written_bytes_total - Bytes written
//   - proofread_cache_errors_total{operation} - Cache operation errors
//
// Cache errors never fail an item; the caller falls back to the provider.
package cache
