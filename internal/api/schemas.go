package api

const createRequestSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["player_id", "team_code", "total_amount"],
  "properties": {
    "external_id": {"type": "string", "maxLength": 64},
    "player_id": {"type": "string", "minLength": 1, "maxLength": 64},
    "team_code": {"type": "string", "minLength": 1, "maxLength": 16},
    "total_amount": {"type": "integer", "exclusiveMinimum": 0},
    "account_tag": {"type": "string", "maxLength": 64},
    "promo_code": {"type": "string", "maxLength": 64}
  }
}`

const claimSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["actor", "intent"],
  "properties": {
    "actor": {"type": "string", "minLength": 1, "maxLength": 64},
    "intent": {"type": "string", "enum": ["process", "verify", "payment", "dispute"]}
  }
}`

const paymentSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["actor", "amount", "cashtag"],
  "properties": {
    "actor": {"type": "string", "minLength": 1, "maxLength": 64},
    "amount": {"type": "integer", "exclusiveMinimum": 0},
    "cashtag": {"type": "string", "minLength": 1, "maxLength": 64},
    "reference": {"type": "string", "maxLength": 128},
    "notes": {"type": "string", "maxLength": 512},
    "identifier": {"type": "string", "maxLength": 64}
  }
}`

const resolveSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["actor", "outcome"],
  "properties": {
    "actor": {"type": "string", "minLength": 1, "maxLength": 64},
    "outcome": {"type": "string", "enum": ["settle", "ban"]},
    "confirm_token": {"type": "string", "maxLength": 128},
    "reason": {"type": "string", "maxLength": 512}
  }
}`

const createAccountSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["tag"],
  "properties": {
    "tag": {"type": "string", "minLength": 1, "maxLength": 64},
    "limit": {"type": "integer", "minimum": 0}
  }
}`
