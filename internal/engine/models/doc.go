// Package models holds the engine's persistent entities: accounts, proxies,
// tasks and the bookkeeping records (dedup, join events, cursors, fetched
// items, login challenges, settings).
package models
