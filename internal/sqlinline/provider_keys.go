package sqlinline

const QSelectProviderKey = `--sql 181b5bfe-7ed9-4718-845a-b9cc20486b07
select api_key
from provider_keys
where provider = $1::text;
`

const QUpsertProviderKey = `--sql 090250fd-afc8-4dd2-9e1e-88fb208806c0
insert into provider_keys (provider, api_key, metadata, rotated_at)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now())
on conflict (provider) do update set
    api_key = excluded.api_key,
    metadata = excluded.metadata,
    rotated_at = now();
`
