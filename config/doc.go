// Package config defines the configuration surface of the Bailian client.
//
// A Config aggregates four sections: API (endpoint and credentials), Model
// (default sampling parameters), Memory (conversational history and its
// backing store) and Log (audit logging of requests and responses).
//
// Configurations can be built three ways:
//
//	cfg := config.Default()                 // all defaults, in-process stores
//	cfg := config.FromEnv()                 // BAILIAN_* environment variables, .env aware
//	cfg, err := config.FromFile("app.yaml") // JSON or YAML file
//
// The client copies the Config it is given, so a Config value can be
// modified and reused to build further clients without affecting running
// ones.
package config
