package sqlinline

const QOpenCreditAccount = `--sql 65c649e1-816e-4276-961f-59f5edc15d5c
insert into credit_accounts (user_id, balance, created_at, updated_at)
values ($1::text, $2::bigint, now(), now())
on conflict (user_id) do update set user_id = excluded.user_id
returning user_id, balance, created_at, updated_at;
`

const QSelectCreditAccount = `--sql 3b0f6c52-8d7e-4a51-b7c2-5e9d14a6f0c3
select user_id, balance, created_at, updated_at
from credit_accounts
where user_id = $1::text;
`

const QGrantCredits = `--sql 068a765c-f3ff-438f-acfc-4d983a043b69
update credit_accounts
set balance = balance + $2::bigint,
    updated_at = now()
where user_id = $1::text
returning user_id, balance, created_at, updated_at;
`

const QReserveCredits = `--sql 0897144a-967e-4ebb-80c5-f8932a155b03
with debited as (
    update credit_accounts
    set balance = balance - $3::bigint,
        updated_at = now()
    where user_id = $2::text
      and balance >= $3::bigint
    returning user_id
)
insert into credit_reservations (id, user_id, ref, amount, status, created_at)
select $1::uuid, user_id, $4::text, $3::bigint, 'held', now()
from debited
returning id::text, user_id, ref, amount, status, created_at, settled_at;
`

const QCommitReservation = `--sql e1980910-6882-4763-8d4e-f8147e18a760
update credit_reservations
set status = 'committed',
    settled_at = now()
where id = $1::uuid
  and status = 'held';
`

const QReleaseReservation = `--sql 5bca490e-241f-4b25-bb46-0683cd650608
with released as (
    update credit_reservations
    set status = 'released',
        settled_at = now()
    where id = $1::uuid
      and status = 'held'
    returning user_id, amount
),
refunded as (
    update credit_accounts a
    set balance = a.balance + r.amount,
        updated_at = now()
    from released r
    where a.user_id = r.user_id
    returning r.amount
)
select coalesce((select amount from refunded), 0)::bigint;
`

const QSelectReservation = `--sql 450f52c5-39d2-44d6-bbae-fb582ea2fdaf
select id::text, user_id, ref, amount, status, created_at, settled_at
from credit_reservations
where id = $1::uuid;
`

const QSelectCreditBalance = `--sql b82d6425-ea3f-4f6c-996f-21aeeeba62c2
select balance
from credit_accounts
where user_id = $1::text;
`

const QListHeldReservations = `--sql 5b07082f-4d64-444f-b584-d25e38305587
select id::text, user_id, ref, amount, status, created_at, settled_at
from credit_reservations
where status = 'held'
  and created_at < $1::timestamptz
order by created_at asc
limit $2::int;
`
