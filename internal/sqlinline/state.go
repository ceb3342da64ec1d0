package sqlinline

const QStateEnsureTable = `--sql 5d0f3b9e-2a71-4c58-9e3d-8b6f1c42a7d0
create table if not exists studio_state (
  key text primary key,
  value bytea not null,
  updated_at timestamptz not null default now()
);
`

const QStateGet = `--sql 9a4c7e21-63d8-4f0b-b5a2-1e7d90c3f846
select value
from studio_state
where key = $1;
`

const QStateUpsert = `--sql e1b28f47-0c9a-4d36-8a5e-73f2b6d1c095
insert into studio_state (key, value, updated_at)
values ($1, $2, now())
on conflict (key) do update
set value = excluded.value,
    updated_at = excluded.updated_at;
`

const QStateDelete = `--sql 3f86d0c2-b4e7-4a19-9c5d-20a7e8f16b3c
delete from studio_state
where key = $1;
`
