package domain

// KeyPrefix namespaces every key the service writes to Valkey/Redis.
const KeyPrefix = "adtokens:"
