package postgres

const queryInsertJob = `
INSERT INTO jobs (id, minutes_id, meeting_id, status, priority, max_retries, retry_count, last_error, created_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

const queryInsertRecipient = `
INSERT INTO recipients (id, job_id, contact_address, channel_preference, delivery_status, delivered_at, retry_count, last_error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const queryUpdateJob = `
UPDATE jobs
SET status = $2, retry_count = $3, last_error = $4, completed_at = $5
WHERE id = $1
`

const queryUpdateRecipient = `
UPDATE recipients
SET delivery_status = $3, delivered_at = $4, retry_count = $5, last_error = $6
WHERE id = $1 AND job_id = $2
`

const queryInsertSendAttempt = `
INSERT INTO send_attempts (id, job_id, recipient_id, channel, attempt, outcome, error, started_at, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const queryGetJob = `
SELECT id, minutes_id, meeting_id, status, priority, max_retries, retry_count, last_error, created_at, completed_at
FROM jobs
WHERE id = $1
`

const queryGetRecipients = `
SELECT id, contact_address, channel_preference, delivery_status, delivered_at, retry_count, last_error
FROM recipients
WHERE job_id = $1
ORDER BY id
`

const queryListAttempts = `
SELECT id, job_id, recipient_id, channel, attempt, outcome, error, started_at, duration_ms
FROM send_attempts
WHERE job_id = $1
ORDER BY started_at ASC
LIMIT $2 OFFSET $3
`

const queryDeleteTerminalJobs = `
WITH expired AS (
    SELECT id FROM jobs
    WHERE status IN ('completed', 'partially_completed', 'failed')
      AND completed_at < $1
),
deleted_attempts AS (
    DELETE FROM send_attempts WHERE job_id IN (SELECT id FROM expired)
),
deleted_recipients AS (
    DELETE FROM recipients WHERE job_id IN (SELECT id FROM expired)
)
DELETE FROM jobs WHERE id IN (SELECT id FROM expired)
`
