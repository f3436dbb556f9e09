package database

const resultSchema = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS exclusion_runs (
	run_id      uuid PRIMARY KEY,
	created_at  timestamptz NOT NULL,
	radius      double precision NOT NULL,
	summary     jsonb NOT NULL
);

CREATE TABLE IF NOT EXISTS exclusion_results (
	run_id              uuid NOT NULL REFERENCES exclusion_runs (run_id) ON DELETE CASCADE,
	parcel_id           text NOT NULL,
	status              text NOT NULL,
	full_area           double precision NOT NULL,
	allowed_area        double precision NOT NULL,
	prohibited_area     double precision NOT NULL,
	external_dwellings  integer NOT NULL,
	degraded            boolean NOT NULL DEFAULT false,
	full_geom           geometry NOT NULL,
	allowed_geom        geometry NOT NULL,
	prohibited_geom     geometry NOT NULL,
	PRIMARY KEY (run_id, parcel_id)
);

CREATE INDEX IF NOT EXISTS exclusion_results_allowed_geom_idx
	ON exclusion_results USING gist (allowed_geom);
`
