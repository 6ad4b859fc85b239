package vectorutils

var ParseQdrantTarget = parseQdrantTarget
