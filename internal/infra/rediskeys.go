package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "msp"
)

// Ключи
const (
	RedisKeyDashboardSnapshot = RedisNamespace + ":dashboard:snapshot"
	RedisKeyLockSync          = RedisNamespace + ":lock:sync"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanDashboardRefresh: синхронизатор обновил снимок, кэш консоли устарел.
	RedisChanDashboardRefresh = RedisNamespace + ":dashboard:refresh"
	// RedisChanSyncRequest: администратор запросил внеочередную синхронизацию.
	RedisChanSyncRequest = RedisNamespace + ":sync:request"
)
