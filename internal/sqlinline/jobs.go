package sqlinline

const QInsertJob = `--sql 9d9d8043-28bf-417a-a6ce-ce4be5e9a773
insert into jobs (id, user_id, kind, input, state, reservation_id, retry_of, locale, country, created_at, updated_at)
values ($1::uuid, $2::text, $3::text, $4::jsonb, 'queued', $5::uuid, nullif($6::text, '')::uuid, $7::text, $8::text, now(), now())
returning id::text, user_id, kind, input, state, result, staged_result, coalesce(error_message, ''),
    reservation_id::text, coalesce(retry_of::text, ''), locale, country, created_at, updated_at;
`

const QTransitionJob = `--sql 7d4a10e0-69e4-4c07-bd5f-e1a245b171ef
update jobs
set state = $3::text,
    result = coalesce($4::jsonb, result),
    error_message = coalesce(nullif($5::text, ''), error_message),
    updated_at = now()
where id = $1::uuid
  and state = $2::text
returning id::text, user_id, kind, input, state, result, staged_result, coalesce(error_message, ''),
    reservation_id::text, coalesce(retry_of::text, ''), locale, country, created_at, updated_at;
`

const QStageJobResult = `--sql e94a93f0-f354-4615-afd7-560e3224b4de
update jobs
set staged_result = $2::jsonb,
    updated_at = now()
where id = $1::uuid
  and state = 'running';
`

const QSelectJob = `--sql f19c7450-9a04-4d77-9c1f-1efb73007048
select id::text, user_id, kind, input, state, result, staged_result, coalesce(error_message, ''),
    reservation_id::text, coalesce(retry_of::text, ''), locale, country, created_at, updated_at
from jobs
where id = $1::uuid;
`

const QListJobsByUser = `--sql e3c61a22-a268-4b0b-b53b-e3b873942239
select id::text, user_id, kind, input, state, result, staged_result, coalesce(error_message, ''),
    reservation_id::text, coalesce(retry_of::text, ''), locale, country, created_at, updated_at
from jobs
where user_id = $1::text
  and (
      $2::timestamptz is null
      or (created_at, id::text) < ($2::timestamptz, $3::text)
  )
order by created_at desc, id::text desc
limit $4::int;
`

const QCountJobsByState = `--sql 9154f18b-5d38-43b6-bc61-0115cf170817
select state, count(*)::int
from jobs
where user_id = $1::text
group by state;
`

const QListStaleJobs = `--sql cb479f75-83a4-40de-92b2-45af0d479fe9
select id::text, user_id, kind, input, state, result, staged_result, coalesce(error_message, ''),
    reservation_id::text, coalesce(retry_of::text, ''), locale, country, created_at, updated_at
from jobs
where state = any($1::text[])
  and updated_at < $2::timestamptz
order by updated_at asc
limit $3::int;
`

const QClaimQueuedJob = `--sql ce279177-b0c4-421c-9046-e312ff7356f0
with next_job as (
    select id
    from jobs
    where state = 'queued'
    order by created_at asc
    for update skip locked
    limit 1
),
updated as (
    update jobs
    set state = 'running', updated_at = now()
    where id in (select id from next_job)
    returning id::text, user_id, kind, input, state, result, staged_result, coalesce(error_message, ''),
        reservation_id::text, coalesce(retry_of::text, ''), locale, country, created_at, updated_at
)
select * from updated;
`
