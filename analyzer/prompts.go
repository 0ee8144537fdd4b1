package analyzer

// Prompts sent to the multimodal model. Each one demands a single JSON
// object so responses survive the extraction pass.

const speciesPromptFormat = `You are an urban forestry expert identifying a tree from photographs.

The tree is located at latitude %v, longitude %v (region: %s).
Favor species that plausibly grow in that region.

Examine the photographs (whole-tree views and a bark closeup) and identify
the species. Respond with ONLY a JSON object, no other text:

{
  "common": "<common name>",
  "scientific": "<binomial scientific name, e.g. Acer rubrum>",
  "confidence": <0.0 to 1.0>
}

If you cannot identify the species, use your best guess with a low
confidence value.`

const healthPrompt = `You are a certified arborist assessing tree health from photographs.

Rate two separate aspects on this exact scale:
excellent, good, fair, poor, critical, dead

- conditionStructural: trunk and branch structure (cracks, cavities, decay, lean)
- conditionLeaf: foliage and vigor (color, density, dieback)

Also list any visible defects or symptoms you observe.

Respond with ONLY a JSON object, no other text:

{
  "conditionStructural": "<rating>",
  "conditionLeaf": "<rating>",
  "confidence": <0.0 to 1.0>,
  "observations": ["<defect or symptom>", ...]
}`

const measurementPrompt = `You are an urban forestry expert estimating tree measurements from photographs.

Use visible reference objects (people, cars, buildings, signs) for scale.
Estimate:

- dbhCm: trunk diameter at breast height (1.4m above ground), in centimeters
- heightM: total tree height, in meters
- crownWidthM: average crown spread, in meters (omit if not estimable)
- numStems: number of stems at breast height

Respond with ONLY a JSON object, no other text:

{
  "dbhCm": <number>,
  "heightM": <number>,
  "crownWidthM": <number or omit>,
  "numStems": <integer>
}`

const measurementSpeciesNoteFormat = "\n\nNote: This tree has been identified as %s. " +
	"Use species-typical proportions to validate your estimates."

const sitePrompt = `You are performing a Level 1 municipal tree inspection from photographs.

Assess the tree's site and condition. For each field, use ONLY the listed
values; omit any field you cannot assess from the photos.

- conditionRating: excellent, good, fair, poor, critical, dead
- crownDieback: true or false
- trunkDefects: list from cavity, crack, decay, lean, wound, conk, bark_damage, codominant_stems
- locationType: street, park, yard, median, parking_lot, commercial, institutional, natural_area, other
- siteType: tree_lawn, cutout, open_soil, raised_planter, container, unrestricted, other
- overheadUtilityConflict: true or false
- maintenanceFlag: none, routine, priority, urgent
- sidewalkDamage: true or false
- mulchSoilCondition: good_mulch, no_mulch, volcano_mulch, compacted, bare_soil, grass_to_trunk, other
- riskFlag: true or false

Respond with ONLY a JSON object containing the fields you can assess.`
