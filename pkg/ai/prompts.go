package ai

const ExtractEntitiesPrompt = `
# Task Context
You extract **named entities** from a short text so they can be stored as nodes of a knowledge graph.

# Background Data
- **Entity_types:** [%s]
- **Chunk_id:** [%s]

# Rules
1. Only extract entities explicitly mentioned in the text. Do not invent entities.
2. For each entity return:
   - **label:** the entity name as written in the text, without titles or articles.
   - **type:** exactly one of the entity types listed above, in capital letters.
   - **description:** one or two sentences describing the entity using only information from the text.
3. Mention each entity once, even if the text refers to it several times.
4. If the text contains no entities, return an empty array.

# Example
**Text:** Eric knows Sam, a basketball player.

**Output:**
{
  "entities": [
    {"label": "Eric", "type": "PERSON", "description": "Eric is a person who knows Sam."},
    {"label": "Sam", "type": "PERSON", "description": "Sam is a basketball player known by Eric."},
    {"label": "basketball", "type": "GAME", "description": "Basketball is the game Sam plays."}
  ]
}

# Output Formatting
Return a single JSON object of the form {"entities": [...]}. No commentary.

# Text
%s
`

const ExtractRelationshipsPrompt = `
# Task Context
You extract **relationships** between already identified entities of a short text.

# Background Data
- **Known_entities:** [%s]
- **Chunk_id:** [%s]

# Rules
1. Only connect entities from the known entity list. Use their labels exactly as given.
2. For each relationship return:
   - **source:** label of the entity the relationship starts at.
   - **target:** label of the entity the relationship points to.
   - **relation:** a short snake_case verb phrase, e.g. "knows", "has_skill", "works_at".
   - **weight:** a number between 0.1 and 1.0 describing how strongly the text supports the relationship.
3. Only extract relationships the text states or clearly implies. Do not relate an entity to itself.
4. If there are no relationships, return an empty array.

# Example
**Known_entities:** Eric, Sam, basketball
**Text:** Eric knows Sam, a basketball player.

**Output:**
{
  "relationships": [
    {"source": "Eric", "target": "Sam", "relation": "knows", "weight": 0.8},
    {"source": "Sam", "target": "basketball", "relation": "has_skill", "weight": 0.7}
  ]
}

# Output Formatting
Return a single JSON object of the form {"relationships": [...]}. No commentary.

# Text
%s
`

// FilterOutMarker is the answer the cleaning prompt gives for worthless
// segments.
const FilterOutMarker = "FILTER_OUT"

const CleanSegmentPrompt = `
You are processing a conversation segment from a group chat that needs cleaning and summarization.

Original segment:
%s

Your task:
1. Keep the important information, decisions and the participants involved.
2. Remove laughing, emojis, casual greetings, repeated information and meaningless responses.
3. Write a concise summary in clear, structured language.
4. If the segment is mostly meaningless content, respond with "FILTER_OUT".

Respond with the cleaned and summarized content only, or "FILTER_OUT" if the segment should be removed entirely.
`
