// Package infra holds the adapters around the inference core: feed and
// weather clients, SQLite storage, the Redis cache, MQTT and Kafka
// publishers and the metrics exporters. They only depend on core packages.
package infra
