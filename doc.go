// Package bailian is a client library for the Alibaba Bailian (DashScope)
// model service that layers conversational memory, audit logging and a
// fluent request builder on top of raw model calls.
//
// A Client owns the configuration snapshot, the storage backends and the
// memory/audit managers, and creates Chat builders bound to a
// (user, session) identity:
//
//	cfg := config.FromEnv()
//	client, err := bailian.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := client.Initialize(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	resp, err := client.Chat("alice", "main").
//		Model("qwen-plus").
//		Temperature(0.7).
//		System("You are a helpful assistant.").
//		Ask(ctx, "Hello!")
//
// Conversation history is bounded per session and isolated per
// (user, session) pair; every exchange leaves request and response
// records in the audit log. History and logs persist to a pluggable
// backend: in-process memory, flat files, Redis, SQLite or PostgreSQL,
// selected by configuration or injected directly.
//
// Streaming exchanges go through Chat.Stream, which passes fragments
// through as they arrive and commits the aggregated assistant turn
// exactly once on completion. An aborted stream commits nothing.
package bailian
