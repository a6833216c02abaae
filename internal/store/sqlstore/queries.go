package sqlstore

// Queries are written with $N placeholders, each used once and in ascending
// order, so the sqlite dialect can rebind them to plain '?'.

const intentColumns = `
    id, resource_key, correlation_id,
    policy_id, policy_name, target_ip, classification,
    announced_at, eligible_at, ended_at, created_at,
    status, retry_count, max_retries, next_retry_at, last_error`

const historyColumns = `
    id, resource_key, correlation_id,
    policy_id, policy_name, target_ip, classification,
    announced_at, ended_at, completed_at,
    attack_duration_seconds, protection_duration_seconds,
    method, status, notes`

const queryInsertIntent = `
INSERT INTO withdrawal_intents (
    resource_key, correlation_id,
    policy_id, policy_name, target_ip, classification,
    announced_at, eligible_at, ended_at, created_at,
    status, retry_count, max_retries
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending', 0, $11)
ON CONFLICT DO NOTHING
RETURNING id
`

const queryDueIntents = `
SELECT` + intentColumns + `
FROM withdrawal_intents
WHERE (status = 'pending' AND eligible_at <= $1)
   OR (status = 'failed' AND retry_count < max_retries
       AND (next_retry_at IS NULL OR next_retry_at <= $2))
ORDER BY eligible_at ASC, id ASC
`

const queryListPending = `
SELECT` + intentColumns + `
FROM withdrawal_intents
WHERE status = 'pending'
ORDER BY eligible_at ASC, id ASC
`

const queryListFailed = `
SELECT` + intentColumns + `
FROM withdrawal_intents
WHERE status = 'failed'
ORDER BY created_at DESC, id DESC
`

const queryGetIntent = `
SELECT` + intentColumns + `
FROM withdrawal_intents
WHERE id = $1
`

const queryStaleIntents = `
SELECT` + intentColumns + `
FROM withdrawal_intents
WHERE created_at < $1
ORDER BY created_at ASC, id ASC
`

// The status/retry_count guard makes the delete and update below conditional
// on the row still being in the state the resolver read. The losing side of a
// race affects zero rows.
const queryDeleteIntentGuarded = `
DELETE FROM withdrawal_intents
WHERE id = $1 AND status = $2 AND retry_count = $3
`

const queryScheduleRetry = `
UPDATE withdrawal_intents
SET status = 'failed',
    retry_count = $1,
    next_retry_at = $2,
    last_error = $3
WHERE id = $4 AND status = $5 AND retry_count = $6
`

const queryResetFailed = `
UPDATE withdrawal_intents
SET status = 'pending',
    eligible_at = $1,
    next_retry_at = NULL,
    last_error = 'manual reset for retry'
WHERE id = $2 AND status = 'failed'
`

const queryInsertHistory = `
INSERT INTO withdrawal_history (
    resource_key, correlation_id,
    policy_id, policy_name, target_ip, classification,
    announced_at, ended_at, completed_at,
    attack_duration_seconds, protection_duration_seconds,
    method, status, notes
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING id
`

const queryListHistory = `
SELECT` + historyColumns + `
FROM withdrawal_history
ORDER BY completed_at DESC, id DESC
LIMIT $1
`

const queryInsertAttempt = `
INSERT INTO withdrawal_attempts (id, run_id, intent_id, resource_key, action, outcome, error, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const queryCountIntentsByStatus = `
SELECT status, COUNT(*) FROM withdrawal_intents GROUP BY status
`

const queryCountHistoryByStatus = `
SELECT status, COUNT(*) FROM withdrawal_history GROUP BY status
`

const queryCountAttemptsBetween = `
SELECT COUNT(*) FROM withdrawal_attempts
WHERE finished_at >= $1 AND finished_at < $2
`
