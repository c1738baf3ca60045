package redis

const (
	// replaceLedgerScript atomically replaces the ledger hash
	replaceLedgerScript = `
local ledger_key = KEYS[1]     -- ktimer:ledger

redis.call('DEL', ledger_key)

-- ARGV holds field/value pairs: "date/user", minutes
for i = 1, #ARGV, 2 do
  redis.call('HSET', ledger_key, ARGV[i], ARGV[i + 1])
end

return #ARGV / 2
`
)
